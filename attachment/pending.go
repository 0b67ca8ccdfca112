package attachment

import (
	"sync"
)

// Pending is one selected-but-unsent file and its optional preview.
type Pending struct {
	File    File
	Preview *Preview
}

// PreviewHandle returns the preview handle or "" for non-image files.
func (p Pending) PreviewHandle() string {
	if p.Preview == nil {
		return ""
	}
	return p.Preview.Handle
}

// Release frees the preview, if any. Safe to call more than once.
func (p Pending) Release() {
	if p.Preview != nil && !p.Preview.Released() {
		_ = p.Preview.Release()
	}
}

// PendingList holds files the user has selected for the next send.
type PendingList struct {
	encoder *Encoder

	mu    sync.Mutex
	items []Pending
}

// NewPendingList constructs an empty list backed by encoder.
func NewPendingList(encoder *Encoder) *PendingList {
	return &PendingList{encoder: encoder}
}

// Add validates file and appends it with a preview when it is an image.
// Rejected files are not added.
func (l *PendingList) Add(file File) (Pending, error) {
	if err := l.encoder.Validate(file); err != nil {
		return Pending{}, err
	}

	preview, err := l.encoder.Preview(file)
	if err != nil {
		return Pending{}, err
	}

	item := Pending{File: file, Preview: preview}
	l.mu.Lock()
	l.items = append(l.items, item)
	l.mu.Unlock()
	return item, nil
}

// Remove drops the entry at index and releases its preview.
func (l *PendingList) Remove(index int) error {
	l.mu.Lock()
	if index < 0 || index >= len(l.items) {
		l.mu.Unlock()
		return ErrIndexOutOfRange
	}
	item := l.items[index]
	l.items = append(l.items[:index], l.items[index+1:]...)
	l.mu.Unlock()

	if item.Preview != nil {
		return item.Preview.Release()
	}
	return nil
}

// Take empties the list and hands the entries to the caller, who releases
// each preview once its message has been transmitted.
func (l *PendingList) Take() []Pending {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := l.items
	l.items = nil
	return items
}

// Items returns a snapshot of the pending entries.
func (l *PendingList) Items() []Pending {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Pending(nil), l.items...)
}

// Len returns the number of pending entries.
func (l *PendingList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Clear releases and drops every pending entry.
func (l *PendingList) Clear() {
	for _, item := range l.Take() {
		item.Release()
	}
}
