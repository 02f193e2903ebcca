package zalouser

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/zalouser/internal/bus"
	"github.com/nextlevelbuilder/zalouser/internal/channels/zalouser/zca"
	"github.com/nextlevelbuilder/zalouser/internal/msgcache"
	"github.com/nextlevelbuilder/zalouser/internal/outbound"
	"github.com/nextlevelbuilder/zalouser/internal/target"
)

// Send delivers an outbound message. Text is chunked; every chunk and every
// attachment passes the outbound ledger, so a retried delivery of the same
// message only sends the pieces that have not gone out yet.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) (err error) {
	if !c.IsRunning() {
		return fmt.Errorf("zalouser channel not running")
	}
	t, ok := target.Parse(msg.ChatID)
	if !ok {
		return fmt.Errorf("zalouser: invalid target %q", msg.ChatID)
	}
	accountID, err := c.account(msg.AccountID)
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "zalouser.send", trace.WithAttributes(
		attribute.String("zalouser.target", t.String()),
		attribute.Int("zalouser.media", len(msg.Media)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	base := outbound.Fingerprint{
		AccountID:          accountID,
		SessionKey:         msg.Metadata[bus.MetaSessionKey],
		Target:             t.String(),
		IdempotencyContext: idempotencyContext(msg.Metadata),
	}

	for i, chunk := range chunkText(msg.Content, c.cfg.ChunkLimit()) {
		fp := base
		fp.Kind = outbound.KindText
		fp.Text = chunk
		fp.Sequence = i + 1
		err := c.deliver(ctx, t, fp, chunk, func(ctx context.Context) (zca.SendResult, error) {
			return c.client.SendText(ctx, t.ID, t.IsGroup(), chunk)
		})
		if err != nil {
			return fmt.Errorf("zalouser send text: %w", err)
		}
	}

	for i, m := range msg.Media {
		if m.URL == "" {
			continue
		}
		fp := base
		fp.Kind = outbound.KindMedia
		fp.MediaRef = m.URL
		fp.Text = m.Caption
		fp.Sequence = i + 1

		kind, isMedia := zca.MediaKindFor(m.ContentType)
		if !isMedia {
			fp.Kind = outbound.KindLink
		}
		err := c.deliver(ctx, t, fp, m.Caption, func(ctx context.Context) (zca.SendResult, error) {
			if isMedia {
				return c.client.SendMedia(ctx, t.ID, t.IsGroup(), kind, m.URL, m.Caption)
			}
			return c.client.SendLink(ctx, t.ID, t.IsGroup(), m.URL)
		})
		if err != nil {
			return fmt.Errorf("zalouser send media: %w", err)
		}
	}
	return nil
}

// deliver runs one send under the outbound ledger. A duplicate is skipped,
// not an error.
func (c *Channel) deliver(ctx context.Context, t target.Target, fp outbound.Fingerprint, preview string, send func(context.Context) (zca.SendResult, error)) error {
	res := c.ledger.Acquire(fp)
	if !res.Acquired() {
		slog.Info("zalouser outbound duplicate skipped",
			"reason", res.Reason(),
			"target", fp.Target,
			"kind", fp.Kind,
			"sequence", fp.Sequence,
		)
		return nil
	}
	sent := false
	defer func() { c.ledger.Release(res.Ticket(), sent) }()

	if err := c.limiter.Wait(ctx, fp.Target); err != nil {
		return err
	}
	out, err := send(ctx)
	if err != nil {
		return err
	}
	sent = true

	if out.MsgID != "" || out.CliMsgID != "" {
		c.cache.Remember(msgcache.Ref{
			AccountID: fp.AccountID,
			ThreadID:  t.ID,
			IsGroup:   t.IsGroup(),
			MsgID:     out.MsgID,
			CliMsgID:  out.CliMsgID,
			Preview:   preview,
		})
	}
	return nil
}

func idempotencyContext(meta map[string]string) string {
	if v := meta[bus.MetaIdempotencyKey]; v != "" {
		return v
	}
	return meta[bus.MetaReplyTo]
}

// chunkText splits text into pieces of at most limit runes, preferring to
// cut after a newline in the second half of a piece.
func chunkText(text string, limit int) []string {
	if limit <= 0 {
		limit = 2000
	}
	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cutAt = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}
