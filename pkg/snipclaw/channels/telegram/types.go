package telegram

import (
	"time"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
)

// ---------- Telegram Bot API Types ----------

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	MessageID       int64        `json:"message_id"`
	From            *tgUser      `json:"from"`
	Chat            tgChat       `json:"chat"`
	Date            int64        `json:"date"`
	Text            string       `json:"text"`
	Entities        []tgEntity   `json:"entities"`
	Caption         string       `json:"caption"`
	CaptionEntities []tgEntity   `json:"caption_entities"`
	ReplyToMessage  *tgMessage   `json:"reply_to_message"`
	Photo           []tgFileInfo `json:"photo"`
	Audio           *tgFileInfo  `json:"audio"`
	Voice           *tgFileInfo  `json:"voice"`
	Video           *tgFileInfo  `json:"video"`
	Document        *tgFileInfo  `json:"document"`
	Animation       *tgFileInfo  `json:"animation"`
	VideoNote       *tgFileInfo  `json:"video_note"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

type tgEntity struct {
	Type     string `json:"type"`
	Offset   int    `json:"offset"`
	Length   int    `json:"length"`
	URL      string `json:"url"`
	Language string `json:"language"`
}

// tgFileInfo covers the fields shared by PhotoSize, Audio, Voice, Video,
// Document, Animation and VideoNote.
type tgFileInfo struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`
}

type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

// convertMessage maps a Bot API message to the channel-neutral form. The
// reply parent is converted one level deep only.
func convertMessage(msg *tgMessage, withParent bool) *channels.IncomingMessage {
	in := &channels.IncomingMessage{
		ID:              msg.MessageID,
		ChatID:          msg.Chat.ID,
		ChatType:        msg.Chat.Type,
		Date:            time.Unix(msg.Date, 0),
		Text:            msg.Text,
		Entities:        convertEntities(msg.Entities),
		Caption:         msg.Caption,
		CaptionEntities: convertEntities(msg.CaptionEntities),
		Attachments:     collectAttachments(msg),
	}
	if msg.From != nil {
		in.From = channels.User{
			ID:        msg.From.ID,
			Username:  msg.From.Username,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
		}
	}
	if withParent && msg.ReplyToMessage != nil {
		in.ReplyTo = convertMessage(msg.ReplyToMessage, false)
	}
	return in
}

func convertEntities(src []tgEntity) []channels.Entity {
	if len(src) == 0 {
		return nil
	}
	out := make([]channels.Entity, len(src))
	for i, e := range src {
		out[i] = channels.Entity{
			Type:     e.Type,
			Offset:   e.Offset,
			Length:   e.Length,
			URL:      e.URL,
			Language: e.Language,
		}
	}
	return out
}

// collectAttachments lists every supported media field in a fixed order.
// Only the largest photo size is kept. Animations are also delivered as a
// document with the same file, which is skipped.
func collectAttachments(msg *tgMessage) []channels.Attachment {
	var out []channels.Attachment
	add := func(mt channels.MediaType, f *tgFileInfo) {
		if f == nil || f.FileID == "" {
			return
		}
		out = append(out, channels.Attachment{
			Type:     mt,
			FileID:   f.FileID,
			FileName: f.FileName,
			MimeType: f.MimeType,
			FileSize: f.FileSize,
		})
	}

	if len(msg.Photo) > 0 {
		add(channels.MediaPhoto, &msg.Photo[len(msg.Photo)-1])
	}
	if msg.Document != nil && (msg.Animation == nil || msg.Animation.FileID != msg.Document.FileID) {
		add(channels.MediaDocument, msg.Document)
	}
	add(channels.MediaVideo, msg.Video)
	add(channels.MediaAudio, msg.Audio)
	add(channels.MediaVoice, msg.Voice)
	add(channels.MediaAnimation, msg.Animation)
	add(channels.MediaVideoNote, msg.VideoNote)
	return out
}
