// Character spawning: the cast a new town starts with, plus procedurally
// generated extras when a world asks for more agents than the fixed cast holds.
package agents

import (
	"fmt"
	"math/rand"
)

// Character is everything needed to create one agent.
type Character struct {
	Name      string
	Character string // sprite key
	Identity  string
	Plan      string
}

// Spawner hands out characters for a new world.
type Spawner struct {
	rng  *rand.Rand
	cast []Character
	next int
}

// NewSpawner creates a spawner that draws from the default cast first.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:  rand.New(rand.NewSource(seed + 300)),
		cast: DefaultCast(),
	}
}

// Spawn returns count characters.
func (s *Spawner) Spawn(count int) []Character {
	out := make([]Character, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, s.spawnOne())
	}
	return out
}

func (s *Spawner) spawnOne() Character {
	if s.next < len(s.cast) {
		c := s.cast[s.next]
		s.next++
		return c
	}
	s.next++

	name := s.generateName()
	trait := traits[s.rng.Intn(len(traits))]
	goal := goals[s.rng.Intn(len(goals))]
	return Character{
		Name:      name,
		Character: fmt.Sprintf("f%d", 1+s.rng.Intn(8)),
		Identity:  fmt.Sprintf("%s is %s. They have lived in town for %d years.", name, trait, 1+s.rng.Intn(30)),
		Plan:      fmt.Sprintf("You want to %s.", goal),
	}
}

func (s *Spawner) generateName() string {
	first := firstNames[s.rng.Intn(len(firstNames))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return first + " " + last
}

// DefaultCast returns the hand-written starting characters.
func DefaultCast() []Character {
	return []Character{
		{
			Name:      "Astrid Millward",
			Character: "f1",
			Identity:  "Astrid runs the bakery and knows everyone's business. She is warm, nosy and can't keep a secret.",
			Plan:      "You want to find out what everyone in town is up to.",
		},
		{
			Name:      "Bram Thatcher",
			Character: "f4",
			Identity:  "Bram is a retired sailor who tells long stories about the sea. He is patient and a little lonely.",
			Plan:      "You want to find someone who will listen to your stories.",
		},
		{
			Name:      "Elara Brightwater",
			Character: "f6",
			Identity:  "Elara is a botanist who studies the plants around the ponds. She is curious and easily distracted.",
			Plan:      "You want to convince the town to protect the ponds.",
		},
		{
			Name:      "Finn Harper",
			Character: "f3",
			Identity:  "Finn is a young musician who just moved to town. He is cheerful and eager to make friends.",
			Plan:      "You want to start a band.",
		},
		{
			Name:      "Greta Stoneheart",
			Character: "f7",
			Identity:  "Greta is the town's no-nonsense carpenter. She is blunt, practical and secretly kind.",
			Plan:      "You want to find helpers to rebuild the old bridge.",
		},
	}
}

// Name pools for procedural generation.
var firstNames = []string{
	"Aldric", "Bram", "Cedric", "Doran", "Erik", "Finn", "Gareth",
	"Halvard", "Jasper", "Leif", "Magnus", "Oswin", "Quinn", "Rowan",
	"Astrid", "Brenna", "Calla", "Daria", "Freya", "Iris", "Juno",
	"Kira", "Lena", "Mira", "Petra", "Thea", "Vera", "Willa",
}

var lastNames = []string{
	"Voss", "Thornwood", "Ashford", "Dunmore", "Greenvale", "Hearthstone",
	"Millward", "Copperfield", "Silverdale", "Deepwell", "Brightwater",
	"Riverstone", "Holloway", "Farrow", "Thatcher", "Caldwell", "Harper", "Mercer",
}

var traits = []string{
	"a cheerful gardener", "a grumpy librarian", "an anxious inventor",
	"a retired teacher", "a traveling merchant", "a shy painter",
}

var goals = []string{
	"learn everyone's name", "organize a picnic", "find a lost cat",
	"open a tea shop", "write a book about the town", "make a new friend",
}
