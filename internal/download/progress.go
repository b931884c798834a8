package download

import "github.com/agentic-research/cominavi/api"

// Progress is the byte counter of one file.
type Progress struct {
	Kind           api.FileKind `json:"kind"`
	TotalBytes     int64        `json:"total_bytes"`
	CompletedBytes int64        `json:"completed_bytes"`
}

// Aggregate is a snapshot of all in-flight files. The reductions are
// recomputed from Files on every call.
type Aggregate struct {
	Files []Progress `json:"files"`
}

func (a Aggregate) TotalBytes() int64 {
	var n int64
	for _, f := range a.Files {
		n += f.TotalBytes
	}
	return n
}

func (a Aggregate) CompletedBytes() int64 {
	var n int64
	for _, f := range a.Files {
		n += f.CompletedBytes
	}
	return n
}

// FractionCompleted is in [0, 1]; 0 when nothing is known.
func (a Aggregate) FractionCompleted() float64 {
	total := a.TotalBytes()
	if total <= 0 {
		return 0
	}
	f := float64(a.CompletedBytes()) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}

// File returns the slot for kind.
func (a Aggregate) File(kind api.FileKind) (Progress, bool) {
	for _, f := range a.Files {
		if f.Kind == kind {
			return f, true
		}
	}
	return Progress{}, false
}
