package services

import (
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := c.(tgbotapi.MessageConfig)
	f.sent = append(f.sent, sentMessage{chatID: msg.ChatID, text: msg.Text})
	return tgbotapi.Message{}, nil
}

func startCommand(userID, chatID int64) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     "/start",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: userID},
	}}
}

func TestTelegramStartRegistersAdminChat(t *testing.T) {
	sender := &fakeSender{}
	n := newTelegramNotifier(sender, []int64{42}, zap.NewNop())

	n.handleUpdate(startCommand(7, 700))
	n.handleUpdate(startCommand(42, 900))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(700), sender.sent[0].chatID)
	assert.Contains(t, sender.sent[0].text, "only talks to raffle administrators")
	assert.Contains(t, sender.sent[1].text, "Chat 900 registered")

	sender.sent = nil
	n.PaymentApproved(context.Background(), ApprovalNotice{
		RaffleTitle: "Rifa Moto", Number: 17, BuyerName: "Ana", BuyerEmail: "ana@example.com",
		Amount: "25.00", ExternalID: "mp-1",
	})
	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(42), sender.sent[0].chatID)
	assert.Equal(t, int64(900), sender.sent[1].chatID)
	assert.Contains(t, sender.sent[0].text, "Number: 17")
	assert.Contains(t, sender.sent[0].text, "R$ 25.00")
}

func TestTelegramWithoutAdminsRegistersNoChat(t *testing.T) {
	sender := &fakeSender{}
	n := newTelegramNotifier(sender, nil, zap.NewNop())

	n.handleUpdate(startCommand(5, 500))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].text, "only talks to raffle administrators")

	sender.sent = nil
	n.Broadcast("hello")
	assert.Empty(t, sender.sent)
}

func TestTelegramRefundRequiredNotice(t *testing.T) {
	sender := &fakeSender{}
	n := newTelegramNotifier(sender, []int64{42}, zap.NewNop())

	n.RefundRequired(context.Background(), ApprovalNotice{
		RaffleTitle: "Rifa Moto", Number: 3, BuyerName: "Ana", BuyerEmail: "ana@example.com",
		Amount: "10.00", ExternalID: "mp-9",
	})
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].chatID)
	assert.Contains(t, sender.sent[0].text, "Refund required")
	assert.Contains(t, sender.sent[0].text, "Payment: mp-9")
}

func TestTelegramIgnoresPlainMessages(t *testing.T) {
	sender := &fakeSender{}
	n := newTelegramNotifier(sender, nil, zap.NewNop())

	n.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{Text: "hi", Chat: &tgbotapi.Chat{ID: 1}, From: &tgbotapi.User{ID: 1}}})
	n.handleUpdate(tgbotapi.Update{})
	assert.Empty(t, sender.sent)
}
