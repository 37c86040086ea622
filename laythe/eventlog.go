package laythe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Event log embed colors.
const (
	colorEventInfo   = 0x4f8a8b
	colorEventEdit   = 0xf0a500
	colorEventDelete = 0xc54b4b
)

// logModAction sends an embed to the guild's configured log channel.
// Delivery is best effort and never fails the calling command.
func (lt *Laythe) logModAction(
	ctx context.Context,
	guildID string,
	embed *discordgo.MessageEmbed,
) {
	setting, err := lt.db.GetSetting(ctx, guildID, false)
	if err != nil {
		lt.logger.ErrorContext(ctx, "error loading settings", tint.Err(err))
		return
	}
	lt.sendEventLog(ctx, setting, embed)
}

func (lt *Laythe) sendEventLog(
	ctx context.Context,
	setting *Setting,
	embed *discordgo.MessageEmbed,
) {
	if setting == nil || setting.LogChannel == "" {
		return
	}
	if embed.Color == 0 {
		embed.Color = colorEventInfo
	}
	if embed.Timestamp == "" {
		embed.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if _, err := lt.discord.session.ChannelMessageSendComplex(
		setting.LogChannel.String(),
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}},
	); err != nil {
		lt.logger.ErrorContext(
			ctx, "error sending event log",
			tint.Err(err),
			"channel_id", setting.LogChannel.String(),
		)
	}
}

// logMemberEvent records a join or leave in the log channel, including
// the age of the account.
func (lt *Laythe) logMemberEvent(
	ctx context.Context,
	setting *Setting,
	title string,
	user *discordgo.User,
) {
	embed := &discordgo.MessageEmbed{
		Title: title,
		Author: &discordgo.MessageEmbedAuthor{
			Name:    user.String(),
			IconURL: user.AvatarURL("64"),
		},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: user.Mention(), Inline: true},
			{Name: "ID", Value: user.ID, Inline: true},
		},
	}
	if created, err := ParseSnowflake(user.ID); err == nil {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:   "Account created",
				Value:  fmt.Sprintf("<t:%d:R>", created.Unix()),
				Inline: true,
			},
		)
	}
	lt.sendEventLog(ctx, setting, embed)
}

func (lt *Laythe) handlerMessageUpdate() func(
	s *discordgo.Session,
	m *discordgo.MessageUpdate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageUpdate) {
		if m.Author == nil || m.Author.Bot || m.GuildID == "" {
			return
		}
		ctx := context.Background()

		old, err := lt.kv.GetMessage(m.GuildID, m.ChannelID, m.ID)
		if err != nil || old == nil {
			return
		}
		if old.Content == m.Content {
			return
		}
		if cacheErr := lt.kv.SetMessage(m.Message); cacheErr != nil {
			lt.logger.Warn("error caching edited message", tint.Err(cacheErr))
		}

		setting, err := lt.db.GetSetting(ctx, m.GuildID, false)
		if err != nil {
			return
		}

		lt.sendEventLog(ctx, setting, &discordgo.MessageEmbed{
			Title: "Message edited",
			Color: colorEventEdit,
			Author: &discordgo.MessageEmbedAuthor{
				Name:    m.Author.String(),
				IconURL: m.Author.AvatarURL("64"),
			},
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Channel", Value: fmt.Sprintf("<#%s>", m.ChannelID), Inline: true},
				{Name: "Author", Value: m.Author.Mention(), Inline: true},
				{Name: "Before", Value: shortenString(old.Content, 1000)},
				{Name: "After", Value: shortenString(m.Content, 1000)},
			},
		})
	}
}

func (lt *Laythe) handlerMessageDelete() func(
	s *discordgo.Session,
	m *discordgo.MessageDelete,
) {
	return func(s *discordgo.Session, m *discordgo.MessageDelete) {
		if m.GuildID == "" {
			return
		}
		ctx := context.Background()

		msg, err := lt.kv.GetMessage(m.GuildID, m.ChannelID, m.ID)
		if err != nil || msg == nil || msg.Author == nil || msg.Author.Bot {
			return
		}

		setting, err := lt.db.GetSetting(ctx, m.GuildID, false)
		if err != nil {
			return
		}

		content := msg.Content
		if content == "" && len(msg.Attachments) > 0 {
			content = "(attachment only)"
		}

		lt.sendEventLog(ctx, setting, &discordgo.MessageEmbed{
			Title: "Message deleted",
			Color: colorEventDelete,
			Author: &discordgo.MessageEmbedAuthor{
				Name:    msg.Author.String(),
				IconURL: msg.Author.AvatarURL("64"),
			},
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Channel", Value: fmt.Sprintf("<#%s>", m.ChannelID), Inline: true},
				{Name: "Author", Value: msg.Author.Mention(), Inline: true},
				{Name: "Content", Value: shortenString(content, 1000)},
			},
		})
	}
}

func (lt *Laythe) handlerMessageDeleteBulk() func(
	s *discordgo.Session,
	m *discordgo.MessageDeleteBulk,
) {
	return func(s *discordgo.Session, m *discordgo.MessageDeleteBulk) {
		if m.GuildID == "" {
			return
		}
		ctx := context.Background()

		setting, err := lt.db.GetSetting(ctx, m.GuildID, false)
		if err != nil || setting.LogChannel == "" {
			return
		}

		embed := &discordgo.MessageEmbed{
			Title: fmt.Sprintf("Bulk delete - %d messages", len(m.Messages)),
			Color: colorEventDelete,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Channel", Value: fmt.Sprintf("<#%s>", m.ChannelID), Inline: true},
			},
		}

		var text strings.Builder
		fmt.Fprintf(
			&text, "%s - %s\n\n",
			m.ChannelID, time.Now().UTC().Format(time.RFC1123),
		)
		logged := 0
		for _, messageID := range m.Messages {
			msg, msgErr := lt.kv.GetMessage(m.GuildID, m.ChannelID, messageID)
			if msgErr != nil || msg == nil || msg.Author == nil {
				continue
			}
			logged++
			fmt.Fprintf(
				&text, "\nUser: %s (%s)\nContent: %s\n",
				msg.Author.String(), msg.Author.ID, msg.Content,
			)
			if len(msg.Attachments) > 0 {
				text.WriteString("Message had attachment\n")
			}
		}

		if logged > 0 && lt.owo != nil {
			link, upErr := lt.owo.Upload(text.String())
			if upErr != nil {
				lt.logger.ErrorContext(
					ctx, "error uploading bulk delete log", tint.Err(upErr),
				)
				embed.Fields = append(
					embed.Fields, &discordgo.MessageEmbedField{
						Name:  "Logged messages",
						Value: "upload failed",
					},
				)
			} else {
				embed.Fields = append(
					embed.Fields, &discordgo.MessageEmbedField{
						Name:  "Logged messages",
						Value: link,
					},
				)
			}
		}

		lt.sendEventLog(ctx, setting, embed)
	}
}

func (lt *Laythe) handlerGuildBanAdd() func(
	s *discordgo.Session,
	b *discordgo.GuildBanAdd,
) {
	return func(s *discordgo.Session, b *discordgo.GuildBanAdd) {
		if b.User == nil {
			return
		}
		ctx := context.Background()
		lt.logModAction(ctx, b.GuildID, &discordgo.MessageEmbed{
			Title: "User banned",
			Color: colorEventDelete,
			Author: &discordgo.MessageEmbedAuthor{
				Name:    b.User.String(),
				IconURL: b.User.AvatarURL("64"),
			},
			Fields: []*discordgo.MessageEmbedField{
				{Name: "User", Value: b.User.Mention(), Inline: true},
				{Name: "ID", Value: b.User.ID, Inline: true},
			},
		})
	}
}

func (lt *Laythe) handlerGuildBanRemove() func(
	s *discordgo.Session,
	b *discordgo.GuildBanRemove,
) {
	return func(s *discordgo.Session, b *discordgo.GuildBanRemove) {
		if b.User == nil {
			return
		}
		ctx := context.Background()
		lt.logModAction(ctx, b.GuildID, &discordgo.MessageEmbed{
			Title: "User unbanned",
			Author: &discordgo.MessageEmbedAuthor{
				Name:    b.User.String(),
				IconURL: b.User.AvatarURL("64"),
			},
			Fields: []*discordgo.MessageEmbedField{
				{Name: "User", Value: b.User.Mention(), Inline: true},
				{Name: "ID", Value: b.User.ID, Inline: true},
			},
		})
	}
}
