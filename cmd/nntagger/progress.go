package main

import (
	"io"
	"sync"

	"github.com/gosuri/uiprogress"
)

// barObserver draws one progress bar per training phase.
type barObserver struct {
	out      io.Writer
	mu       sync.Mutex
	progress *uiprogress.Progress
	bar      *uiprogress.Bar
}

func newBarObserver(out io.Writer) *barObserver {
	return &barObserver{out: out}
}

func (o *barObserver) Begin(phase string, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := uiprogress.New()
	p.SetOut(o.out)
	p.Start()
	bar := p.AddBar(max(total, 1)).AppendCompleted().PrependElapsed()
	bar.PrependFunc(func(*uiprogress.Bar) string { return phase })
	o.progress, o.bar = p, bar
}

func (o *barObserver) Progress(done int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	// Shards finish out of order; never move the bar backwards.
	if o.bar != nil && done > o.bar.Current() {
		_ = o.bar.Set(done)
	}
}

func (o *barObserver) End() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.progress != nil {
		o.progress.Stop()
	}
	o.progress, o.bar = nil, nil
}
