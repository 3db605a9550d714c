// Package extract pulls structured fields out of raw chat text: numbers,
// an order category and free-form subject names.
package extract

import (
	"github.com/ashureev/chatdesk/internal/domain"
)

// minStemLen is the shortest stem matched as a word prefix. Shorter stems
// must match a token exactly.
const minStemLen = 4

// Vocabulary is the closed word list the extractor works with. All entries
// are expected in folded form (see textnorm.Fold).
type Vocabulary struct {
	// CategoryPhrases are multi-word category names, checked before
	// single keywords.
	CategoryPhrases map[string]domain.Category
	// CategoryKeywords are single-word category stems, matched as prefixes.
	CategoryKeywords map[string]domain.Category
	// NounStems are inflecting nouns matched as prefixes ("заказ" covers
	// "заказов"). Keep them specific enough not to start a person's name.
	NounStems []string
	// CommandVerbs and StopWords match whole tokens only, so "надо" never
	// swallows "надоев". None of them count as subject names.
	CommandVerbs []string
	StopWords    []string
	// Conjunctions separate subjects in multi-subject messages.
	Conjunctions []string
	// NumberWords map spelled-out numerals to values.
	NumberWords map[string]int
}

// DefaultVocabulary returns the bilingual (Russian/English) vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		CategoryPhrases: map[string]domain.Category{
			"полный пакет":  domain.CategoryPackage,
			"full package":  domain.CategoryPackage,
			"по стандарту":  domain.CategoryStandard,
			"срочный заказ": domain.CategoryUrgent,
		},
		CategoryKeywords: map[string]domain.Category{
			"кастом":   domain.CategoryCustom,
			"custom":   domain.CategoryCustom,
			"стандарт": domain.CategoryStandard,
			"standard": domain.CategoryStandard,
			"срочн":    domain.CategoryUrgent,
			"urgent":   domain.CategoryUrgent,
			"пакет":    domain.CategoryPackage,
			"package":  domain.CategoryPackage,
		},
		CommandVerbs: []string{
			"создай", "создайте", "создать", "сделай", "добавь", "добавить", "покажи", "покажите", "показать",
			"найди", "найти", "запиши", "записать", "оплатил", "внеси", "нужно", "надо",
			"пожалуйста", "еще", "новый", "новых", "новая", "новые",
			"create", "make", "add", "show", "find", "list", "book", "new", "please",
		},
		NounStems: []string{
			"заказ", "файл", "оплат", "платеж", "расписан", "клиент",
			"недавн", "последн", "штук", "рубл",
		},
		StopWords: []string{
			"запись", "записи", "помощь", "отмена", "меню", "шт", "руб",
			"дата", "даты", "дату", "сегодня", "завтра", "послезавтра",
			"на", "в", "для", "к", "у", "от", "по", "за",
			"order", "orders", "file", "files", "payment", "payments", "paid",
			"schedule", "client", "clients", "recent", "help", "cancel", "menu",
			"pcs", "for", "to", "on", "at", "today", "tomorrow",
		},
		Conjunctions: []string{"и", "или", "с", "а", "and", "or", "with"},
		NumberWords: map[string]int{
			"один": 1, "одна": 1, "одно": 1, "два": 2, "две": 2, "три": 3,
			"четыре": 4, "пять": 5, "шесть": 6, "семь": 7, "восемь": 8,
			"девять": 9, "десять": 10, "двадцать": 20, "тридцать": 30,
			"сорок": 40, "пятьдесят": 50, "сто": 100,
			"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
			"seven": 7, "eight": 8, "nine": 9, "ten": 10,
		},
	}
}
