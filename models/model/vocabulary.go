package model

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// UnknownLabel is returned for class indices outside the vocabulary.
const UnknownLabel = "unknown"

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int
	// The human-readable label.
	Name string
}

// Vocabulary is the ordered list of class names of a model. The position of
// a name is its class index. A Vocabulary is read-only once built.
type Vocabulary struct {
	classes   []OutputClass
	nameToIdx map[string]int
}

// NewVocabulary builds a vocabulary from names in class order.
func NewVocabulary(names []string) *Vocabulary {
	v := &Vocabulary{
		classes:   make([]OutputClass, len(names)),
		nameToIdx: make(map[string]int, len(names)),
	}
	for i, name := range names {
		v.classes[i] = OutputClass{Index: i, Name: name}
		if _, ok := v.nameToIdx[name]; !ok {
			v.nameToIdx[name] = i
		}
	}
	return v
}

// LoadVocabulary reads one label per line. Every line, including blank ones in
// the middle of the file, is a class; a trailing newline does not add one.
//
// Arguments:
//   - r: The label file contents.
//
// Returns:
//   - *Vocabulary: The loaded vocabulary.
//   - error: A read error, or a *postprocess.ConfigurationError when empty.
func LoadVocabulary(r io.Reader) (*Vocabulary, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		names = append(names, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read labels")
	}
	if len(names) == 0 {
		return nil, &postprocess.ConfigurationError{Field: "labels", Reason: "vocabulary is empty"}
	}
	return NewVocabulary(names), nil
}

// LoadVocabularyFile opens path and loads it with LoadVocabulary.
func LoadVocabularyFile(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open label file %s", path)
	}
	defer f.Close()

	v, err := LoadVocabulary(f)
	if err != nil {
		return nil, errors.Wrapf(err, "label file %s", path)
	}
	return v, nil
}

// Len returns the number of classes.
func (v *Vocabulary) Len() int {
	return len(v.classes)
}

// Name returns the class name for idx, or UnknownLabel when out of range.
func (v *Vocabulary) Name(idx int) string {
	if idx < 0 || idx >= len(v.classes) {
		return UnknownLabel
	}
	return v.classes[idx].Name
}

// Index returns the class index of name.
func (v *Vocabulary) Index(name string) (int, error) {
	idx, ok := v.nameToIdx[name]
	if !ok {
		return -1, errors.Errorf("name %q not found in vocabulary", name)
	}
	return idx, nil
}

// Classes returns a copy of the classes in index order.
func (v *Vocabulary) Classes() []OutputClass {
	out := make([]OutputClass, len(v.classes))
	copy(out, v.classes)
	return out
}
