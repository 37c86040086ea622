package laythe

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dgraph-io/badger"
	"github.com/dgraph-io/badger/options"
	"github.com/lmittmann/tint"
)

const (
	// lastMessageTTL bounds how long a last-message timestamp is kept.
	// Entries only need to survive the 60-second experience gate.
	lastMessageTTL = 5 * time.Minute

	// cachedMessageTTL is how long gateway messages are retained for
	// delete/edit log rendering.
	cachedMessageTTL = 24 * time.Hour

	// cachedGuildTTL mirrors the settings cache TTL for the dashboard's
	// guild metadata reads.
	cachedGuildTTL = settingCacheTTL
)

// KVStore is the process-local ephemeral store backing the experience
// anti-spam gate, the delete/edit event logs, and the dashboard's guild
// metadata cache. Nothing in here is durable state - losing the store
// loses at most a few minutes of gate timestamps and log context.
type KVStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewKVStore opens (or creates) a badger store at the given directory.
// The caller is responsible for running periodic value-log GC.
func NewKVStore(dir string, logger *slog.Logger) (*KVStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &KVStore{logger: logger.With(loggerNameKey, "kvstore")}

	opts := badger.DefaultOptions(dir)
	opts.Truncate = true
	opts.ValueLogLoadingMode = options.FileIO
	opts.NumVersionsToKeep = 1
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		s.logger.Error("error opening kv store", tint.Err(err))
		return nil, err
	}
	s.db = db

	return s, nil
}

func (s *KVStore) Close() error {
	return s.db.Close()
}

func lastMessageKey(guildID, userID string) []byte {
	return []byte(fmt.Sprintf("lastmsg:%v:%v", guildID, userID))
}

// TouchLastMessage records the current time as the user's most recent
// qualifying message in the guild, overwriting any prior entry.
func (s *KVStore) TouchLastMessage(guildID, userID string) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(time.Now().UTC().Unix()))
	return s.db.Update(
		func(txn *badger.Txn) error {
			e := badger.NewEntry(lastMessageKey(guildID, userID), buf).
				WithTTL(lastMessageTTL)
			return txn.SetEntry(e)
		},
	)
}

// LastMessageTime returns the epoch seconds of the user's most recent
// qualifying message in the guild, or zero/false if none is recorded.
func (s *KVStore) LastMessageTime(guildID, userID string) (int64, bool) {
	var ts int64
	err := s.db.View(
		func(txn *badger.Txn) error {
			item, err := txn.Get(lastMessageKey(guildID, userID))
			if err != nil {
				return err
			}
			body, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			ts = int64(binary.BigEndian.Uint64(body))
			return nil
		},
	)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// SetMember caches a guild member for leave-log rendering.
func (s *KVStore) SetMember(m *discordgo.Member) error {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(m)
	if err != nil {
		s.logger.Error("failed to encode member", tint.Err(err))
		return err
	}

	return s.db.Update(
		func(txn *badger.Txn) error {
			key := []byte(fmt.Sprintf("member:%v:%v", m.GuildID, m.User.ID))
			return txn.Set(key, buf.Bytes())
		},
	)
}

func (s *KVStore) GetMember(guildID, userID string) (*discordgo.Member, error) {
	var body []byte
	if err := s.db.View(
		func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(fmt.Sprintf("member:%v:%v", guildID, userID)))
			if err != nil {
				return err
			}
			body, err = item.ValueCopy(nil)
			return err
		},
	); err != nil {
		return nil, err
	}

	mem := &discordgo.Member{}
	err := gob.NewDecoder(bytes.NewReader(body)).Decode(mem)
	if err != nil {
		s.logger.Error("failed to decode member", tint.Err(err))
		return nil, err
	}
	return mem, nil
}

func (s *KVStore) DeleteMember(guildID, userID string) error {
	return s.db.Update(
		func(txn *badger.Txn) error {
			return txn.Delete([]byte(fmt.Sprintf("member:%v:%v", guildID, userID)))
		},
	)
}

// SetMessage caches a gateway message so delete/edit events can show
// the original content. Entries expire after a day.
func (s *KVStore) SetMessage(msg *discordgo.Message) error {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(msg)
	if err != nil {
		s.logger.Error("failed to encode message", tint.Err(err))
		return err
	}

	return s.db.Update(
		func(txn *badger.Txn) error {
			key := []byte(
				fmt.Sprintf(
					"message:%v:%v:%v",
					msg.GuildID, msg.ChannelID, msg.ID,
				),
			)
			e := badger.NewEntry(key, buf.Bytes()).WithTTL(cachedMessageTTL)
			return txn.SetEntry(e)
		},
	)
}

func (s *KVStore) GetMessage(guildID, channelID, messageID string) (
	*discordgo.Message,
	error,
) {
	var body []byte
	if err := s.db.View(
		func(txn *badger.Txn) error {
			key := []byte(
				fmt.Sprintf("message:%v:%v:%v", guildID, channelID, messageID),
			)
			item, err := txn.Get(key)
			if err != nil {
				return err
			}
			body, err = item.ValueCopy(nil)
			return err
		},
	); err != nil {
		return nil, err
	}

	msg := &discordgo.Message{}
	err := gob.NewDecoder(bytes.NewReader(body)).Decode(msg)
	if err != nil {
		s.logger.Error("failed to decode message", tint.Err(err))
		return nil, err
	}
	return msg, nil
}

// GetMessageLog returns the cached messages a user sent in a channel
// within the last day, via a prefix scan.
func (s *KVStore) GetMessageLog(guildID, channelID, userID string) (
	[]*discordgo.Message,
	error,
) {
	var messages []*discordgo.Message
	err := s.db.View(
		func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			it := txn.NewIterator(opts)
			defer it.Close()

			prefix := []byte(fmt.Sprintf("message:%v:%v", guildID, channelID))
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()

				body, err := item.ValueCopy(nil)
				if err != nil {
					s.logger.Error("error reading message entry", tint.Err(err))
					continue
				}
				msg := &discordgo.Message{}
				if err = gob.NewDecoder(bytes.NewReader(body)).Decode(msg); err != nil {
					s.logger.Error("error decoding message entry", tint.Err(err))
					continue
				}

				if msg.Author == nil || msg.Author.ID != userID {
					continue
				}
				ts, err := ParseSnowflake(msg.ID)
				if err != nil {
					continue
				}
				if time.Since(ts) < cachedMessageTTL {
					messages = append(messages, msg)
				}
			}
			return nil
		},
	)
	return messages, err
}

// SetGuild caches guild metadata for the dashboard.
func (s *KVStore) SetGuild(g *discordgo.Guild) error {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(g)
	if err != nil {
		s.logger.Error("failed to encode guild", tint.Err(err))
		return err
	}
	return s.db.Update(
		func(txn *badger.Txn) error {
			e := badger.NewEntry(
				[]byte(fmt.Sprintf("guild:%v", g.ID)),
				buf.Bytes(),
			).WithTTL(cachedGuildTTL)
			return txn.SetEntry(e)
		},
	)
}

func (s *KVStore) GetGuild(guildID string) (*discordgo.Guild, error) {
	var body []byte
	if err := s.db.View(
		func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(fmt.Sprintf("guild:%v", guildID)))
			if err != nil {
				return err
			}
			body, err = item.ValueCopy(nil)
			return err
		},
	); err != nil {
		return nil, err
	}

	g := &discordgo.Guild{}
	err := gob.NewDecoder(bytes.NewReader(body)).Decode(g)
	if err != nil {
		s.logger.Error("failed to decode guild", tint.Err(err))
		return nil, err
	}
	return g, nil
}

// RunGC triggers a single value-log GC pass.
func (s *KVStore) RunGC() error {
	return s.db.RunValueLogGC(0.5)
}

// ParseSnowflake extracts the creation time from a Discord snowflake ID.
func ParseSnowflake(id string) (time.Time, error) {
	n, err := strconv.ParseInt(id, 0, 63)
	if err != nil {
		return time.Now(), err
	}
	return time.Unix(((n>>22)+1420070400000)/1000, 0), nil
}
