package rag

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xxxsen/mnote-agent/internal/model"
)

const noteSnippetRunes = 800

func fromChunks(hits []model.ChunkMatch) []model.RetrievalResult {
	out := make([]model.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.RetrievalResult{
			SourceID: h.Chunk.NoteID,
			ChunkID:  h.Chunk.ChunkID,
			Title:    h.Chunk.Title,
			Snippet:  h.Chunk.Content,
			Score:    h.Score,
			Origin:   model.OriginVector,
		})
	}
	return out
}

func fromNotes(hits []model.NoteMatch, query string) []model.RetrievalResult {
	out := make([]model.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.RetrievalResult{
			SourceID: h.Note.ID,
			Title:    h.Note.Title,
			Snippet:  snippetAround(h.Note.Content, query, noteSnippetRunes),
			Score:    h.Score,
			Origin:   model.OriginNotes,
		})
	}
	return out
}

// Fuse merges two ranked lists. Each list is scaled by its own best score,
// weighted, and summed per source; the snippet of the larger contribution
// is kept. Ties keep vector results ahead of notes results.
func Fuse(vector, notes []model.RetrievalResult, vectorWeight, notesWeight float64) []model.RetrievalResult {
	type slot struct {
		item     model.RetrievalResult
		best     float64
		hasVec   bool
		hasNotes bool
	}
	order := make([]string, 0, len(vector)+len(notes))
	slots := make(map[string]*slot, len(vector)+len(notes))
	add := func(list []model.RetrievalResult, weight float64, isVector bool) {
		for _, item := range normalize(dedupe(list)) {
			contribution := item.Score * weight
			s, ok := slots[item.SourceID]
			if !ok {
				s = &slot{item: item, best: contribution}
				s.item.Score = 0
				slots[item.SourceID] = s
				order = append(order, item.SourceID)
			} else if contribution > s.best {
				score := s.item.Score
				s.item = item
				s.item.Score = score
				s.best = contribution
			}
			s.item.Score += contribution
			if isVector {
				s.hasVec = true
			} else {
				s.hasNotes = true
			}
		}
	}
	add(vector, vectorWeight, true)
	add(notes, notesWeight, false)

	out := make([]model.RetrievalResult, 0, len(order))
	for _, id := range order {
		s := slots[id]
		switch {
		case s.hasVec && s.hasNotes:
			s.item.Origin = model.OriginBoth
		case s.hasVec:
			s.item.Origin = model.OriginVector
		default:
			s.item.Origin = model.OriginNotes
		}
		out = append(out, s.item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// dedupe keeps the best scored entry per source, in first seen order.
func dedupe(list []model.RetrievalResult) []model.RetrievalResult {
	index := make(map[string]int, len(list))
	out := make([]model.RetrievalResult, 0, len(list))
	for _, item := range list {
		if i, ok := index[item.SourceID]; ok {
			if item.Score > out[i].Score {
				out[i] = item
			}
			continue
		}
		index[item.SourceID] = len(out)
		out = append(out, item)
	}
	return out
}

func normalize(list []model.RetrievalResult) []model.RetrievalResult {
	top := 0.0
	for _, item := range list {
		if item.Score > top {
			top = item.Score
		}
	}
	for i := range list {
		if list[i].Score <= 0 || top <= 0 {
			list[i].Score = 0
			continue
		}
		list[i].Score /= top
	}
	return list
}

// Budget keeps at most maxResults items whose snippets fit in maxChars
// runes. The first item that does not fit is cut to the remaining budget.
func Budget(list []model.RetrievalResult, maxResults, maxChars int) []model.RetrievalResult {
	if maxResults > 0 && len(list) > maxResults {
		list = list[:maxResults]
	}
	if maxChars <= 0 {
		return list
	}
	out := make([]model.RetrievalResult, 0, len(list))
	remaining := maxChars
	for _, item := range list {
		n := utf8.RuneCountInString(item.Snippet)
		if n <= remaining {
			out = append(out, item)
			remaining -= n
			continue
		}
		if remaining > 0 {
			item.Snippet = string([]rune(item.Snippet)[:remaining])
			out = append(out, item)
		}
		break
	}
	return out
}

// snippetAround returns up to size runes of content, starting a little
// before the first query term found in it.
func snippetAround(content, query string, size int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= size {
		return content
	}
	start := 0
	lower := strings.ToLower(content)
	for _, term := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if idx := strings.Index(lower, term); idx >= 0 {
			start = utf8.RuneCountInString(lower[:idx]) - size/4
			break
		}
	}
	if start < 0 {
		start = 0
	}
	if start+size > len(runes) {
		start = len(runes) - size
	}
	return string(runes[start : start+size])
}
