package moderation

// defaultBlocklist is the built-in set of terms the filter ships with.
// Terms with spaces match as whole-word phrases. Grouped by category so
// additions land in the right place.
var defaultBlocklist = []string{
	// slurs
	"nigger",
	"nigga",
	"faggot",
	"kike",
	"spic",
	"chink",
	"tranny",
	"retard",

	// self-harm encouragement
	"kill yourself",
	"kys",
	"go die",
	"hang yourself",

	// exploitation
	"child porn",
	"cp trade",
	"send nudes",
	"jailbait",

	// hate
	"heil hitler",
	"white power",
	"gas the",

	// threats
	"bomb threat",
	"shoot up",
	"i will kill you",

	// scams
	"free bitcoin",
	"free robux",
	"crypto giveaway",
	"cashapp me",
}
