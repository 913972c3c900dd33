package main

import "cardbounty/internal/collection"

// demoCatalog mirrors the cards seeded by the database migrations so the
// in-memory mode behaves the same out of the box.
func demoCatalog() []collection.Card {
	const expansion = "Genetic Apex"
	rows := []struct{ id, name, pack, rarity string }{
		{"a1-001", "Bulbasaur", "Mewtwo", "C"},
		{"a1-002", "Ivysaur", "Mewtwo", "U"},
		{"a1-003", "Venusaur", "Mewtwo", "R"},
		{"a1-004", "Venusaur ex", "Mewtwo", "RR"},
		{"a1-033", "Charmander", "Charizard", "C"},
		{"a1-034", "Charmeleon", "Charizard", "U"},
		{"a1-035", "Charizard", "Charizard", "R"},
		{"a1-036", "Charizard ex", "Charizard", "RR"},
		{"a1-053", "Squirtle", "Pikachu", "C"},
		{"a1-055", "Blastoise", "Pikachu", "R"},
		{"a1-094", "Pikachu", "Pikachu", "C"},
		{"a1-096", "Pikachu ex", "Pikachu", "RR"},
		{"a1-128", "Mewtwo", "Mewtwo", "R"},
		{"a1-129", "Mewtwo ex", "Mewtwo", "RR"},
	}
	cards := make([]collection.Card, 0, len(rows))
	for _, r := range rows {
		cards = append(cards, collection.Card{ID: r.id, Name: r.name, Pack: r.pack, Expansion: expansion, Rarity: r.rarity})
	}
	return cards
}
