package app

import (
	"time"

	"github.com/roman-kulish/spectral-scan/internal/link"
)

// TickMsg triggers a redraw of the waterfall.
type TickMsg time.Time

// StatsMsg carries a worker resource sample.
type StatsMsg struct {
	Stats ProcessStats
	Err   error
}

// ReplyMsg is a worker acknowledgement.
type ReplyMsg link.Reply

// LinkDownMsg reports that the control link is gone.
type LinkDownMsg struct{}

// NoticeMsg is a transient message for the status bar.
type NoticeMsg struct {
	Text string
	Err  error
}
