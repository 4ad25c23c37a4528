package fits

import (
	"strconv"
	"strings"
)

// structural keywords are regenerated on write and never stored in a Header.
var structuralKeywords = map[string]bool{
	"SIMPLE": true,
	"BITPIX": true,
	"NAXIS":  true,
	"NAXIS1": true,
	"NAXIS2": true,
	"BZERO":  true,
	"BSCALE": true,
	"END":    true,
}

// Card is a single 80-byte header record: keyword, value, optional comment.
type Card struct {
	Keyword string
	Value   string
	Comment string
}

// Header holds the non-structural cards of a FITS header in file order.
// Keyword lookup is case-insensitive; keywords are stored upper-case.
type Header struct {
	cards []Card
	index map[string]int
}

// NewHeader creates an empty header.
func NewHeader() *Header {
	return &Header{index: make(map[string]int)}
}

// Set stores a card, replacing any existing card with the same keyword.
func (h *Header) Set(keyword, value, comment string) {
	keyword = strings.ToUpper(strings.TrimSpace(keyword))
	if i, ok := h.index[keyword]; ok {
		h.cards[i].Value = value
		h.cards[i].Comment = comment
		return
	}
	h.index[keyword] = len(h.cards)
	h.cards = append(h.cards, Card{Keyword: keyword, Value: value, Comment: comment})
}

// SetFloat stores a float card using the shortest exact representation.
func (h *Header) SetFloat(keyword string, v float64) {
	h.Set(keyword, strconv.FormatFloat(v, 'G', -1, 64), "")
}

// SetInt stores an integer card.
func (h *Header) SetInt(keyword string, v int) {
	h.Set(keyword, strconv.Itoa(v), "")
}

// Get returns the raw string value of a card.
func (h *Header) Get(keyword string) (string, bool) {
	i, ok := h.index[strings.ToUpper(strings.TrimSpace(keyword))]
	if !ok {
		return "", false
	}
	return h.cards[i].Value, true
}

// Float parses a card value as float64.
func (h *Header) Float(keyword string) (float64, bool) {
	v, ok := h.Get(keyword)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int parses a card value as int.
func (h *Header) Int(keyword string) (int, bool) {
	v, ok := h.Get(keyword)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return i, true
}

// Delete removes a card if present.
func (h *Header) Delete(keyword string) {
	keyword = strings.ToUpper(strings.TrimSpace(keyword))
	i, ok := h.index[keyword]
	if !ok {
		return
	}
	h.cards = append(h.cards[:i], h.cards[i+1:]...)
	delete(h.index, keyword)
	for k, j := range h.index {
		if j > i {
			h.index[k] = j - 1
		}
	}
}

// Cards returns the cards in file order.
func (h *Header) Cards() []Card {
	out := make([]Card, len(h.cards))
	copy(out, h.cards)
	return out
}

// Len returns the number of stored cards.
func (h *Header) Len() int { return len(h.cards) }

// Clone returns a deep copy of the header.
func (h *Header) Clone() *Header {
	c := NewHeader()
	for _, card := range h.cards {
		c.Set(card.Keyword, card.Value, card.Comment)
	}
	return c
}
