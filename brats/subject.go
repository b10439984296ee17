// Package brats reads BraTS-style multi-modal MRI subjects stored as one
// HDF5 container per subject directory.
package brats

import (
	"github.com/sugarme/iseg3d/volume"
)

// Modalities lists the image datasets of a subject container, in channel
// order.
var Modalities = [4]string{"t1", "t1ce", "t2", "flair"}

// LabelKey is the dataset holding the segmentation mask.
const LabelKey = "seg"

// Subject is one scan: four co-registered modality volumes and a label
// volume with class ids in {0,1,2,3}.
type Subject struct {
	ID         string
	Modalities [4]*volume.Volume
	Label      *volume.Volume
}

// Stacked returns the modalities stacked channel-last.
func (s *Subject) Stacked() (*volume.Volume, error) {
	return volume.Stack(s.Modalities[:]...)
}

// Subjects is an id-keyed collection that iterates in insertion order.
type Subjects struct {
	keys []string
	byID map[string]*Subject
}

// NewSubjects creates an empty collection.
func NewSubjects() *Subjects {
	return &Subjects{byID: make(map[string]*Subject)}
}

// Put adds or replaces a subject. A replaced subject keeps its position.
func (s *Subjects) Put(sub *Subject) {
	if _, ok := s.byID[sub.ID]; !ok {
		s.keys = append(s.keys, sub.ID)
	}
	s.byID[sub.ID] = sub
}

// Get returns the subject with the given id.
func (s *Subjects) Get(id string) (*Subject, bool) {
	sub, ok := s.byID[id]
	return sub, ok
}

// Keys returns subject ids in insertion order.
func (s *Subjects) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Len returns the number of subjects.
func (s *Subjects) Len() int {
	return len(s.keys)
}

// First returns the earliest inserted subject, or nil.
func (s *Subjects) First() *Subject {
	if len(s.keys) == 0 {
		return nil
	}
	return s.byID[s.keys[0]]
}

// Each calls fn for every subject in order and stops at the first error.
func (s *Subjects) Each(fn func(*Subject) error) error {
	for _, k := range s.keys {
		if err := fn(s.byID[k]); err != nil {
			return err
		}
	}
	return nil
}
