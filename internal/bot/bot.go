// Package bot routes Telegram updates to the task orchestrator.
package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"url-courier/internal/domain"
	"url-courier/internal/fileutil"
	"url-courier/internal/repository"
	"url-courier/internal/task"
	"url-courier/internal/transport"
	"url-courier/internal/transport/telegram"
)

const pollTimeout = 30 * time.Second

const helpText = `I fetch files from the internet and send them back to you.

Send me:
• a direct download link
• a YouTube / Instagram / TikTok / Twitter link
• a magnet link or a .torrent file

Commands:
/status - your transfer statistics
/cancel - cancel the current task
/setname <name> - default filename for uploads
/setcaption <text> - default caption for uploads
/showthumb - show the saved upload thumbnail
/clearsettings - forget saved name, caption and thumbnail
/about - what I am
/ping - check that I am alive

Send me a photo to use it as the thumbnail for future uploads.`

const aboutText = `🚚 <b>url-courier</b>

I download direct links, media-site videos, magnet links and torrents, then
hand the file back to you as a document or in its original type. Artifacts
are removed as soon as they are delivered or cancelled.`

type Bot struct {
	client       *telegram.Client
	orchestrator *task.Orchestrator
	users        repository.UserRepository
	logger       *logrus.Entry
	torrentDir   string
	thumbDir     string
}

func New(
	client *telegram.Client,
	orchestrator *task.Orchestrator,
	users repository.UserRepository,
	logger *logrus.Entry,
	torrentDir, thumbDir string,
) *Bot {
	return &Bot{
		client:       client,
		orchestrator: orchestrator,
		users:        users,
		logger:       logger,
		torrentDir:   torrentDir,
		thumbDir:     thumbDir,
	}
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := b.client.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warnf("get updates: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update telegram.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update)
	case update.Message != nil && update.Message.Document != nil:
		b.handleDocument(ctx, update)
	case update.Message != nil && len(update.Message.Photo) > 0:
		b.handlePhoto(ctx, update)
	case update.Message != nil && update.Message.Text != "":
		b.handleText(ctx, update)
	}
}

func (b *Bot) handleText(ctx context.Context, update telegram.Update) {
	msg := update.Message
	userID, chatID := msg.From.ID, msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, userID, chatID, msg.MessageID, msg.From.Username, text)
		return
	}

	if b.orchestrator.AwaitingRename(userID) {
		if err := b.orchestrator.Rename(ctx, userID, text); err != nil {
			b.reply(ctx, chatID, fmt.Sprintf("❌ Rename failed: %v", err))
		}
		return
	}

	if !looksLikeLocator(text) {
		b.reply(ctx, chatID, "Send me a link, a magnet URI or a .torrent file. /help for details.")
		return
	}

	b.submit(ctx, userID, chatID, msg.From.Username, text)
}

func (b *Bot) handleCommand(ctx context.Context, userID, chatID, messageID int64, username, text string) {
	cmd, args, _ := strings.Cut(text, " ")
	// strip the bot mention in group chats, e.g. /status@courier_bot
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	args = strings.TrimSpace(args)

	switch cmd {
	case "/start":
		if _, err := b.users.Ensure(ctx, userID, username); err != nil {
			b.logger.Warnf("ensure user: %v", err)
		}
		if err := b.client.React(ctx, chatID, messageID, "👍"); err != nil {
			b.logger.Debugf("react: %v", err)
		}
		b.reply(ctx, chatID, "👋 Hi! "+helpText)
	case "/help":
		b.reply(ctx, chatID, helpText)
	case "/about":
		b.reply(ctx, chatID, aboutText)
	case "/ping":
		b.reply(ctx, chatID, "🏓 pong")
	case "/status":
		b.sendStatus(ctx, userID, chatID)
	case "/cancel":
		if err := b.orchestrator.Cancel(userID); err != nil {
			if errors.Is(err, task.ErrNoTask) {
				b.reply(ctx, chatID, "Nothing to cancel.")
			} else {
				b.reply(ctx, chatID, fmt.Sprintf("❌ %v", err))
			}
		}
	case "/setname":
		if args == "" {
			b.reply(ctx, chatID, "Usage: /setname <filename>")
			return
		}
		name := fileutil.SanitizeFilename(args)
		if err := b.users.SetCustomName(ctx, userID, name); err != nil {
			b.reply(ctx, chatID, "❌ Could not save the name.")
			return
		}
		b.reply(ctx, chatID, fmt.Sprintf("✅ Default filename set to %s", name))
	case "/setcaption":
		if args == "" {
			b.reply(ctx, chatID, "Usage: /setcaption <text>")
			return
		}
		if err := b.users.SetCustomCaption(ctx, userID, args); err != nil {
			b.reply(ctx, chatID, "❌ Could not save the caption.")
			return
		}
		b.reply(ctx, chatID, "✅ Default caption saved.")
	case "/showthumb":
		b.showThumb(ctx, userID, chatID)
	case "/clearsettings":
		if err := b.users.ClearSettings(ctx, userID); err != nil {
			b.reply(ctx, chatID, "❌ Could not clear settings.")
			return
		}
		b.reply(ctx, chatID, "✅ Settings cleared.")
	default:
		b.reply(ctx, chatID, "Unknown command. /help for the list.")
	}
}

func (b *Bot) sendStatus(ctx context.Context, userID, chatID int64) {
	user, err := b.users.GetByID(ctx, userID)
	if err != nil {
		b.reply(ctx, chatID, "No record yet. Send me a link to get started.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📊 <b>Your statistics</b>\n\n")
	sb.WriteString(fmt.Sprintf("Downloads: %d (%s)\n", user.FetchCount, fileutil.FormatBytes(user.BytesFetched)))
	sb.WriteString(fmt.Sprintf("Uploads: %d (%s)\n", user.UploadCount, fileutil.FormatBytes(user.BytesUploaded)))
	if user.CustomName != "" {
		sb.WriteString(fmt.Sprintf("Default filename: %s\n", user.CustomName))
	}
	if user.CustomCaption != "" {
		sb.WriteString(fmt.Sprintf("Default caption: %s\n", user.CustomCaption))
	}
	if user.CustomThumb != "" {
		sb.WriteString("Custom thumbnail: set\n")
	}
	if remaining := b.orchestrator.CooldownRemaining(userID); remaining > 0 {
		sb.WriteString(fmt.Sprintf("\n⏳ Cooldown: %s remaining", fileutil.FormatDuration(remaining)))
	}
	b.reply(ctx, chatID, sb.String())
}

func (b *Bot) handleDocument(ctx context.Context, update telegram.Update) {
	msg := update.Message
	doc := msg.Document
	if !strings.HasSuffix(strings.ToLower(doc.FileName), ".torrent") {
		b.reply(ctx, msg.Chat.ID, "I only accept .torrent documents.")
		return
	}

	name := fileutil.SanitizeFilename(doc.FileName)
	path, err := b.client.DownloadFile(ctx, doc.FileID, b.torrentDir, name)
	if err != nil {
		b.logger.Warnf("download torrent document: %v", err)
		b.reply(ctx, msg.Chat.ID, "❌ Could not fetch the torrent file.")
		return
	}

	b.submit(ctx, msg.From.ID, msg.Chat.ID, msg.From.Username, path)
}

// showThumb sends the saved thumbnail back with a delete choice.
func (b *Bot) showThumb(ctx context.Context, userID, chatID int64) {
	user, err := b.users.GetByID(ctx, userID)
	if err != nil || user.CustomThumb == "" {
		b.reply(ctx, chatID, "No thumbnail saved. Send me a photo to set one.")
		return
	}
	if _, err := os.Stat(user.CustomThumb); err != nil {
		b.reply(ctx, chatID, "No thumbnail saved. Send me a photo to set one.")
		return
	}

	d := transport.Delivery{Path: user.CustomThumb, Kind: transport.KindPhoto, Caption: "Your upload thumbnail"}
	if err := b.client.Deliver(ctx, chatID, d); err != nil {
		b.logger.Warnf("send thumbnail: %v", err)
		b.reply(ctx, chatID, "❌ Could not send the saved thumbnail.")
		return
	}

	ref, err := b.client.SendStatus(ctx, chatID, "Keep this thumbnail?")
	if err != nil {
		return
	}
	buttons := [][]transport.Button{{{Label: "🗑 Delete thumbnail", Data: "thumb_del"}}}
	if err := b.client.EditChoice(ctx, ref, "Keep this thumbnail?", buttons); err != nil {
		b.logger.Debugf("edit thumbnail choice: %v", err)
	}
}

// deleteThumb removes the stored thumbnail file and clears the setting.
func (b *Bot) deleteThumb(ctx context.Context, userID int64) error {
	user, err := b.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.CustomThumb != "" {
		if err := os.Remove(user.CustomThumb); err != nil && !os.IsNotExist(err) {
			b.logger.Warnf("remove thumbnail: %v", err)
		}
	}
	return b.users.SetCustomThumb(ctx, userID, "")
}

// handlePhoto stores the sent image as the user's upload thumbnail.
func (b *Bot) handlePhoto(ctx context.Context, update telegram.Update) {
	msg := update.Message
	largest := msg.Photo[len(msg.Photo)-1]

	name := fmt.Sprintf("thumb_%d.jpg", msg.From.ID)
	path, err := b.client.DownloadFile(ctx, largest.FileID, b.thumbDir, name)
	if err != nil {
		b.logger.Warnf("download thumbnail: %v", err)
		b.reply(ctx, msg.Chat.ID, "❌ Could not fetch the photo.")
		return
	}
	if err := b.users.SetCustomThumb(ctx, msg.From.ID, path); err != nil {
		b.reply(ctx, msg.Chat.ID, "❌ Could not save the thumbnail.")
		return
	}
	b.reply(ctx, msg.Chat.ID, "🖼 Thumbnail saved. It will be attached to your uploads.")
}

func (b *Bot) submit(ctx context.Context, userID, chatID int64, username, source string) {
	err := b.orchestrator.Submit(userID, chatID, username, source)
	if err == nil {
		return
	}

	var cd *task.CooldownError
	switch {
	case errors.As(err, &cd):
		b.reply(ctx, chatID, fmt.Sprintf("⏳ Please wait %s before the next fetch.", fileutil.FormatDuration(cd.Remaining)))
	case errors.Is(err, task.ErrTaskExists):
		b.reply(ctx, chatID, "You already have a task running. /cancel to stop it.")
	default:
		b.reply(ctx, chatID, fmt.Sprintf("❌ %v", err))
	}
}

func (b *Bot) handleCallback(ctx context.Context, update telegram.Update) {
	cb := update.CallbackQuery
	userID := cb.From.ID

	answer := func(text string) {
		if err := b.client.AnswerCallback(ctx, cb.ID, text, false); err != nil {
			b.logger.Debugf("answer callback: %v", err)
		}
	}

	var err error
	switch cb.Data {
	case "rename_now":
		answer("")
		if cb.Message != nil {
			ref := transport.MessageRef{ChatID: cb.Message.Chat.ID, MessageID: cb.Message.MessageID}
			if e := b.client.EditStatus(ctx, ref, "✏️ Send me the new filename."); e != nil {
				b.logger.Debugf("edit rename prompt: %v", e)
			}
		}
		return
	case "rename_skip":
		err = b.orchestrator.SkipRename(ctx, userID)
	case "upload_doc", "upload_original":
		format := domain.UploadFormatDocument
		if cb.Data == "upload_original" {
			format = domain.UploadFormatOriginal
		}
		var chatID int64
		if cb.Message != nil {
			chatID = cb.Message.Chat.ID
		}
		answer("")
		b.startUpload(ctx, userID, chatID, format)
		return
	case "thumb_del":
		if err := b.deleteThumb(ctx, userID); err != nil {
			answer("❌ Could not delete the thumbnail")
			return
		}
		answer("Thumbnail deleted")
		if cb.Message != nil {
			ref := transport.MessageRef{ChatID: cb.Message.Chat.ID, MessageID: cb.Message.MessageID}
			if e := b.client.EditStatus(ctx, ref, "🗑 Thumbnail deleted."); e != nil {
				b.logger.Debugf("edit thumbnail notice: %v", e)
			}
		}
		return
	default:
		answer("Unknown action")
		return
	}

	if err != nil {
		answer(fmt.Sprintf("❌ %v", err))
		return
	}
	answer("")
}

// startUpload runs the delivery in the background so one user's upload never
// holds up the update loop for everyone else. Delivery failures surface on
// the task's status message; only state errors need a direct reply.
func (b *Bot) startUpload(ctx context.Context, userID, chatID int64, format domain.UploadFormat) {
	go func() {
		err := b.orchestrator.ChooseUpload(ctx, userID, format)
		if err == nil || chatID == 0 {
			return
		}
		if errors.Is(err, task.ErrNoTask) || errors.Is(err, task.ErrInvalidState) {
			b.reply(ctx, chatID, fmt.Sprintf("❌ %v", err))
		}
	}()
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.client.SendStatus(ctx, chatID, text); err != nil {
		b.logger.Warnf("send message: %v", err)
	}
}

// looksLikeLocator accepts http(s) URLs and magnet URIs.
func looksLikeLocator(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "magnet:")
}
