package bot

import (
	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/composer"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/triggers"
)

// Resolution is one reference of a message together with what answering
// it sends.
type Resolution struct {
	Reference triggers.Reference
	ReplyTo   int64
	Record    snippets.Record
	Requests  []composer.Request
}

// Resolve finds the references in msg and composes the reply of each one.
// Lookup failures are logged and yield no requests.
func (b *Bot) Resolve(msg *channels.IncomingMessage) ([]Resolution, error) {
	text := msg.Content()
	if text == "" {
		return nil, nil
	}

	vocab, err := b.store.TriggerWords()
	if err != nil {
		b.logger.Warn("trigger vocabulary unavailable, matching tags only", "error", err)
		vocab = nil
	}
	refs := triggers.Extract(text, vocab, triggers.Options{Dedupe: b.cfg.DedupeReferences})
	if len(refs) == 0 {
		return nil, nil
	}

	// Tags answer the replied-to message; triggers answer the message itself.
	tagTarget := msg.ID
	if msg.ReplyTo != nil {
		tagTarget = msg.ReplyTo.ID
	}

	out := make([]Resolution, 0, len(refs))
	for _, ref := range refs {
		target := msg.ID
		if ref.Origin == triggers.OriginTag {
			target = tagTarget
		}
		res := Resolution{Reference: ref, ReplyTo: target}

		rec, err := b.store.Lookup(ref.Key)
		if err != nil {
			b.logger.Warn("snippet lookup failed", "key", ref.Key, "error", err)
			out = append(out, res)
			continue
		}
		res.Record = rec
		b.metrics.Reference(ref.Origin.String(), recordResult(rec.Kind))
		res.Requests = b.composer.Compose(rec, target)
		out = append(out, res)
	}
	return out, nil
}

func recordResult(k snippets.RecordKind) string {
	switch k {
	case snippets.RecordLocal:
		return "local"
	case snippets.RecordForward:
		return "forward"
	}
	return "not_found"
}
