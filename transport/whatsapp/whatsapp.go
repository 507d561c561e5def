// Package whatsapp adapts a whatsmeow client to the transport interfaces.
// Only direct text chats are surfaced; groups, receipts and media events are
// ignored.
package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/transport"
)

type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	handler   transport.Handler
	presence  *presenceTracker
}

// New opens the device store and builds the client. The session database URI
// picks the driver: postgres: goes to postgres, anything else to sqlite3.
func New(ctx context.Context, storeURI string) (*Adapter, error) {
	dbLog := waLog.Stdout("Database", config.WhatsappLogLevel, true)
	driver := "sqlite3"
	if strings.HasPrefix(storeURI, "postgres:") {
		driver = "postgres"
	}
	container, err := sqlstore.New(ctx, driver, storeURI, dbLog)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client", config.WhatsappLogLevel, true))
	client.EnableAutoReconnect = true
	client.AutoTrustIdentity = true

	a := &Adapter{client: client, container: container, presence: newPresenceTracker()}
	client.AddEventHandler(a.handleEvent)
	return a, nil
}

func (a *Adapter) OnMessage(h transport.Handler) {
	a.handler = h
}

// Connect links the socket. A device without a stored session prints QR codes
// to the log until the phone pairs.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.client.Store.ID == nil {
		qr, err := a.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		if err := a.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		go func() {
			for evt := range qr {
				switch evt.Event {
				case "code":
					logrus.Infof("[WHATSAPP] Scan to pair: %s", evt.Code)
				case "success":
					logrus.Info("[WHATSAPP] Paired")
				default:
					logrus.Infof("[WHATSAPP] QR event: %s", evt.Event)
				}
			}
		}()
		return nil
	}
	return a.client.Connect()
}

func (a *Adapter) Disconnect() {
	a.client.Disconnect()
}

func (a *Adapter) handleEvent(raw any) {
	evt, ok := raw.(*events.Message)
	if !ok {
		return
	}
	if a.handler == nil || evt.Info.IsFromMe {
		return
	}
	// Direct chats only.
	if evt.Info.Chat.Server != types.DefaultUserServer {
		return
	}
	text, quoted := extractText(evt.Message)
	if text == "" {
		return
	}

	a.handler(context.Background(), transport.Inbound{
		ConversationID: evt.Info.Chat.String(),
		Sender:         evt.Info.Sender.User,
		Text:           text,
		MessageID:      evt.Info.ID,
		QuotedID:       quoted,
		ReceivedAt:     evt.Info.Timestamp,
	})
}

// extractText pulls the body and, for a reply, the stanza id of the quoted
// message.
func extractText(msg *waE2E.Message) (text, quoted string) {
	if msg == nil {
		return "", ""
	}
	if t := msg.GetConversation(); t != "" {
		return t, ""
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText(), ext.GetContextInfo().GetStanzaID()
	}
	return "", ""
}

func (a *Adapter) SendText(ctx context.Context, recipient, text string) (string, error) {
	jid := types.NewJID(recipient, types.DefaultUserServer)
	a.typing(ctx, jid)
	defer a.done(ctx, jid)
	resp, err := a.client.SendMessage(ctx, jid, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String(text)},
	})
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", recipient, err)
	}
	return resp.ID, nil
}

// React attaches an emoji to a message the recipient sent us.
func (a *Adapter) React(ctx context.Context, recipient, messageID, emoji string) error {
	jid := types.NewJID(recipient, types.DefaultUserServer)
	msg := &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key: &waCommon.MessageKey{
				FromMe:    proto.Bool(false),
				ID:        proto.String(messageID),
				RemoteJID: proto.String(jid.String()),
			},
			Text:              proto.String(emoji),
			SenderTimestampMS: proto.Int64(time.Now().UnixMilli()),
		},
	}
	if _, err := a.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("react to %s: %w", messageID, err)
	}
	return nil
}
