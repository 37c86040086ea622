// Package laythe implements a Discord community management bot with
// per-guild settings, moderation tooling, and a leveling system.
//
// Laythe listens for slash commands and gateway events, persists its
// state in a relational database, and exposes a backend API for bot
// management and a web dashboard.
//
// Key components of the package include:
//
//   - Laythe: The main struct that encapsulates the bot's core functionality.
//   - Discord: Handles the gateway session and slash command registration.
//   - API: Provides a backend API for bot management and monitoring.
//   - Database: Handles data persistence, with a read-through settings cache.
//   - KVStore: An embedded cache for Discord entities resolved over REST.
//
// The bot supports commands for moderation (/warn, /mute, /kick, /ban,
// /purge), leveling (/level, /leaderboard), and configuration
// (/setting), along with guild event logging, member greetings, and
// level-based role rewards.
package laythe
