package visitors

import "hash/fnv"

var aliasAdjectives = []string{
	"Amber", "Brisk", "Calm", "Dapper", "Eager", "Fabled", "Gentle", "Hardy", "Idle", "Jolly",
	"Keen", "Lucky", "Mellow", "Nimble", "Odd", "Plucky", "Quiet", "Rustic", "Sunny", "Tidy",
	"Upbeat", "Vivid", "Witty", "Young", "Zesty", "Bold", "Cosmic", "Dusty", "Frosty", "Golden",
	"Hidden", "Ivory", "Jaunty", "Lunar", "Misty", "Noble", "Olive", "Polar", "Rapid", "Silent",
	"Tawny", "Velvet", "Wild", "Azure", "Breezy", "Crimson", "Dreamy", "Fuzzy", "Gleeful", "Humble",
}

var aliasAnimals = []string{
	"Badger", "Bison", "Crane", "Dingo", "Egret", "Ferret", "Gecko", "Heron", "Ibis", "Jackal",
	"Kestrel", "Lemur", "Marten", "Newt", "Ocelot", "Puffin", "Quail", "Robin", "Stoat", "Tapir",
	"Urchin", "Vole", "Walrus", "Yak", "Zebra", "Alpaca", "Beaver", "Cougar", "Dolphin", "Finch",
	"Gopher", "Hare", "Impala", "Koala", "Lynx", "Moose", "Narwhal", "Otter", "Panda", "Raven",
	"Salmon", "Toucan", "Wombat", "Osprey", "Mole", "Falcon", "Weasel", "Bobcat", "Magpie", "Hedgehog",
}

// Alias returns an "Adjective Animal" display name derived from the stable key.
// Equal keys always get the same alias; distinct keys may collide.
func Alias(k StableKey) string {
	h := fnv.New32a()
	h.Write([]byte(k.String()))
	index := int(h.Sum32())

	adjIndex := index % len(aliasAdjectives)
	animalIndex := (index / len(aliasAdjectives)) % len(aliasAnimals)

	return aliasAdjectives[adjIndex] + " " + aliasAnimals[animalIndex]
}
