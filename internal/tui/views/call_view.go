package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/andrelmm/convo/internal/call"
	"github.com/andrelmm/convo/internal/chatsdk"
)

// CallView renders the active call session.
type CallView struct {
	*tview.TextView
}

// NewCallView creates the active call page.
func NewCallView() *CallView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetTitle(" Call ")
	return &CallView{TextView: tv}
}

// Update renders the session descriptor.
func (cv *CallView) Update(s call.Session) {
	cv.Clear()
	name := s.Participant.Name
	if name == "" {
		name = s.Participant.ID
	}
	_, _ = fmt.Fprintf(cv, "\n\n[::b]%s[-:-:-]\n\n%s\n\n[::d]h: hang up  Esc: back[-:-:-]",
		tview.Escape(sanitizeForTerminal(name)), s.Status)
}

// IncomingModal is the ringing prompt shown for a held offer.
type IncomingModal struct {
	*tview.Modal
}

// NewIncomingModal creates the incoming call prompt. The accept and
// reject callbacks fire on button selection.
func NewIncomingModal(onAccept, onReject func()) *IncomingModal {
	m := tview.NewModal().
		AddButtons([]string{"Accept", "Reject"}).
		SetDoneFunc(func(_ int, label string) {
			if label == "Accept" {
				onAccept()
			} else {
				onReject()
			}
		})
	return &IncomingModal{Modal: m}
}

// SetOffer renders the caller identity.
func (im *IncomingModal) SetOffer(offer chatsdk.CallOffer) {
	name := offer.CallerName
	if name == "" {
		name = offer.CallerID
	}
	im.SetText(fmt.Sprintf("Incoming %s call from %s", offer.Media, sanitizeForTerminal(name)))
}
