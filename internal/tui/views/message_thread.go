package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/andrelmm/convo/internal/chatsdk"
)

// MessageThread displays the message window and a composer for the
// active conversation.
type MessageThread struct {
	*tview.Flex
	messages  *tview.TextView
	composer  *tview.InputField
	typing    *tview.TextView
	peerName  string
	onSend    func(text string)
	onLoadOld func()
}

// NewMessageThread creates a new message thread view.
func NewMessageThread() *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetTitle(" Messages ")

	typing := tview.NewTextView().SetDynamicColors(true)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetTitle(" Compose (i to focus) ")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(typing, 1, 0, false).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		messages: messages,
		composer: composer,
		typing:   typing,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := composer.GetText()
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	messages.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Paging up past the top asks for older history.
		if (event.Key() == tcell.KeyPgUp || event.Rune() == 'g') && mt.onLoadOld != nil {
			mt.onLoadOld()
		}
		return event
	})

	return mt
}

// SetPeerName updates the thread title.
func (mt *MessageThread) SetPeerName(name string) {
	mt.peerName = name
	mt.messages.SetTitle(fmt.Sprintf(" %s ", sanitizeForTerminal(name)))
}

// SetOnSend sets the callback when a message is submitted.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnLoadOlder sets the callback for requesting older history.
func (mt *MessageThread) SetOnLoadOlder(fn func()) {
	mt.onLoadOld = fn
}

// SetTyping toggles the peer typing indicator line.
func (mt *MessageThread) SetTyping(active bool) {
	mt.typing.Clear()
	if active {
		_, _ = fmt.Fprintf(mt.typing, " [::d]%s is typing...[-:-:-]", sanitizeForTerminal(mt.peerName))
	}
}

// Update re-renders the window. The window arrives newest first; the
// view shows oldest first with the newest at the bottom.
func (mt *MessageThread) Update(me string, msgs []*chatsdk.Message, hasMore bool) {
	mt.messages.Clear()

	if hasMore {
		_, _ = fmt.Fprint(mt.messages, " [::d]-- PgUp for older messages --[-:-:-]\n\n")
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		if m.SenderID == me {
			sender = "You"
		}

		body := tview.Escape(sanitizeForTerminal(m.Body))
		marker := ""
		switch {
		case m.Deleted():
			body = "[::d]message deleted[-:-:-]"
		case m.Status == chatsdk.StatusPending:
			marker = " [::d]sending...[-:-:-]"
		case m.Status == chatsdk.StatusFailed:
			marker = " [red]failed, press r to retry[-]"
		case m.Status == chatsdk.StatusRead:
			marker = " [::d]read[-:-:-]"
		}
		if m.EditedAt != 0 && !m.Deleted() {
			marker += " [::d](edited)[-:-:-]"
		}

		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			tview.Escape(sanitizeForTerminal(sender)), formatTimestamp(m.SentAt), marker, body)
		_, _ = fmt.Fprint(mt.messages, line)
	}

	mt.messages.ScrollToEnd()
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
