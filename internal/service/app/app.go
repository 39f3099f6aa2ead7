package app

import (
	"context"
	"fmt"
	"path/filepath"

	"fitchat/internal/cryptographic/codec"
	"fitchat/internal/keymanager"
	"fitchat/internal/keystore"
	"fitchat/internal/model"
	"fitchat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		api     *ChatAPI
		keys    *keymanager.Manager
		store   *ConversationStore
		channel *Channel

		selfID  int64
		peer    *model.User
		peerKey string
	}
)

func NewApp(api *ChatAPI) *App {
	return &App{
		app: tview.NewApplication(),
		api: api,
	}
}

func (c *App) Run(ctx context.Context, username, peerName, keyDir string) {
	selfID, err := c.api.Login(ctx, username)
	if err != nil {
		log.Fatal("login failed", zap.Error(err))
	}
	c.selfID = selfID

	store := keystore.NewFileStore(filepath.Join(keyDir, username+".json"))
	keys, err := keymanager.LoadOrCreate(store)
	if err != nil {
		// Degrade instead of crashing the host app; without a keypair
		// there is nothing to chat with.
		log.Fatal("messaging unavailable", zap.Error(err))
	}
	c.keys = keys

	if err := c.api.PublishKey(ctx, keys.ExportPublicKey()); err != nil {
		log.Fatal("publish key failed", zap.Error(err))
	}

	peer, err := c.api.ResolveUser(ctx, peerName)
	if err != nil {
		log.Fatal("recipient lookup failed", zap.String("peer", peerName), zap.Error(err))
	}
	c.peer = peer

	if err := c.api.Befriend(ctx, peer.ID); err != nil {
		log.Fatal("befriend failed", zap.Error(err))
	}

	// The recipient may not have published a key yet; sending stays
	// unavailable until one shows up.
	if key, err := c.api.PeerPublicKey(ctx, peer.ID); err == nil {
		c.peerKey = key
	} else {
		log.Warn("recipient has no published key yet", zap.String("peer", peerName))
	}

	c.store = NewConversationStore(selfID, keys, c.api)

	c.channel = NewChannel(c.api.WebsocketURL(), ChannelHandlers{
		OnMessage: func(env *model.MessageEnvelope, senderPublicKey string) {
			c.store.AppendIncoming(env, senderPublicKey)
			if err := c.store.MarkRead(context.TODO(), env.ID); err != nil {
				log.Debug("mark read failed", zap.Int64("messageID", env.ID), zap.Error(err))
			}
			c.redraw()
		},
		OnAck: func(correlationID string, messageID int64) {
			c.store.ResolveAck(correlationID, messageID)
			c.redraw()
		},
		OnError: func(reason string) {
			c.app.QueueUpdateDraw(func() {
				fmt.Fprintf(c.chatbox, "[red]server: %s[-]\n", reason)
			})
		},
		OnStateChange: func(state ChannelState) {
			c.setChannelState(state)
		},
	})
	c.channel.Connect()

	if err := c.store.LoadHistory(ctx, peer.ID); err != nil {
		log.Error("history load failed", zap.Error(err))
	}

	c.renderUI()
}

func (c *App) Stop() {
	if c.channel != nil {
		c.channel.Close()
	}
}

// blocking function
func (c *App) renderUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Chat with %s ", c.peer.Name))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := c.input.GetText()
			if text == "" {
				return
			}

			go func(msg string) {
				if err := c.SendMessage(msg); err != nil {
					c.app.QueueUpdateDraw(func() {
						fmt.Fprintf(c.chatbox, "[red]send failed: %v[-]\n", err)
					})
				}
			}(text)
			c.input.SetText("")
		}
	})

	// Initial contents are written directly; QueueUpdateDraw would block
	// until the event loop below starts.
	c.renderMessages(c.store.Messages(c.peer.ID))

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

// SendMessage encrypts the plaintext with a fresh one-time key, wraps
// that key for the receiver (and once more for ourselves, so our own
// history stays readable), appends an optimistic entry and sends.
func (c *App) SendMessage(msg string) error {
	if c.channel.State() != Connected {
		return ErrNotConnected
	}

	peerKey, err := c.recipientKey()
	if err != nil {
		return err
	}

	msgKey, err := codec.GenerateMessageKey()
	if err != nil {
		return err
	}
	iv, err := codec.GenerateIV()
	if err != nil {
		return err
	}
	ciphertext, err := codec.Encrypt([]byte(msg), msgKey, iv)
	if err != nil {
		return err
	}

	wrappedForPeer, err := c.keys.WrapKey(msgKey, peerKey)
	if err != nil {
		return err
	}
	wrappedForSelf, err := c.keys.WrapKey(msgKey, c.keys.ExportPublicKey())
	if err != nil {
		return err
	}

	correlationID := c.store.AppendOptimisticSent(msg, c.peer.ID)
	c.redraw()

	return c.channel.Send(&model.SendFrame{
		Type:       model.FrameSend,
		ReceiverID: c.peer.ID,
		Content: model.EncryptedContent{
			EncryptedContent:   codec.EncodeBytes(ciphertext),
			EncryptedKey:       codec.EncodeBytes(wrappedForPeer),
			SenderEncryptedKey: codec.EncodeBytes(wrappedForSelf),
			IV:                 codec.EncodeBytes(iv),
		},
		PublicKey:     c.keys.ExportPublicKey(),
		CorrelationID: correlationID,
	})
}

// recipientKey prefers the directory key fetched at startup, falling
// back to the key attached to the peer's own live messages.
func (c *App) recipientKey() (string, error) {
	if c.peerKey != "" {
		return c.peerKey, nil
	}
	if key, ok := c.store.PeerKey(c.peer.ID); ok {
		c.peerKey = key
		return key, nil
	}
	key, err := c.api.PeerPublicKey(context.TODO(), c.peer.ID)
	if err != nil {
		return "", fmt.Errorf("recipient has not published a key: %w", err)
	}
	c.peerKey = key
	return key, nil
}

func (c *App) redraw() {
	if c.chatbox == nil {
		return
	}

	messages := c.store.Messages(c.peer.ID)
	c.app.QueueUpdateDraw(func() {
		c.renderMessages(messages)
	})
}

func (c *App) renderMessages(messages []model.DecryptedMessage) {
	c.chatbox.Clear()
	for _, m := range messages {
		switch {
		case m.SenderID == c.selfID && m.Pending:
			fmt.Fprintf(c.chatbox, "[yellow]You:[-] %s [gray](sending...)[-]\n", m.Content)
		case m.SenderID == c.selfID:
			fmt.Fprintf(c.chatbox, "[yellow]You:[-] %s\n", m.Content)
		default:
			fmt.Fprintf(c.chatbox, "[green]%s:[-] %s\n", c.peer.Name, m.Content)
		}
	}
	c.chatbox.ScrollToEnd()
}

// setChannelState disables the send input while the channel is down.
func (c *App) setChannelState(state ChannelState) {
	if c.input == nil {
		return
	}
	c.app.QueueUpdateDraw(func() {
		if state == Connected {
			c.input.SetDisabled(false)
			c.input.SetTitle(" New Message ")
		} else {
			c.input.SetDisabled(true)
			c.input.SetTitle(fmt.Sprintf(" New Message (%s) ", state))
		}
	})
}
