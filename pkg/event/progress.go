package event

import (
	"io"
	"path"
	"sync"

	"github.com/cheggaaa/pb/v3"
)

// ProgressListener renders a progress bar per running transfer.
type ProgressListener struct {
	w    io.Writer
	mu   sync.Mutex
	bars map[string]*pb.ProgressBar
}

func NewProgressListener(w io.Writer) *ProgressListener {
	return &ProgressListener{
		w:    w,
		bars: make(map[string]*pb.ProgressBar),
	}
}

func (p *ProgressListener) OnEvent(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case Started:
		bar := pb.New64(max(e.Size, 0))
		bar.SetWriter(p.w)
		bar.Set("prefix", path.Base(e.URL)+" ")
		bar.Start()
		p.bars[e.URL] = bar
	case Progressed:
		if bar, ok := p.bars[e.URL]; ok {
			bar.SetCurrent(e.Transferred)
		}
	case Succeeded, Failed:
		if bar, ok := p.bars[e.URL]; ok {
			bar.SetCurrent(e.Transferred)
			bar.Finish()
			delete(p.bars, e.URL)
		}
	}
}
