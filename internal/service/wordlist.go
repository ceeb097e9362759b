package service

// accountHashWords 只用于生成新短语，已签发短语的校验只依赖其摘要。
var accountHashWords = []string{
	"amber", "anchor", "apple", "arrow", "aspen", "autumn", "badge", "bamboo", "banner",
	"barley", "basil", "beacon", "birch", "bison", "blossom", "breeze", "brook", "bubble",
	"cabin", "cactus", "candle", "canyon", "carbon", "cargo", "castle", "cedar", "cello",
	"chalk", "cherry", "cider", "clover", "cobalt", "comet", "copper", "coral", "cotton",
	"crane", "crystal", "dahlia", "daisy", "delta", "desert", "dingo", "dolphin", "dragon",
	"dune", "eagle", "ember", "falcon", "fern", "fiddle", "fjord", "flint", "forest",
	"fossil", "fox", "galaxy", "garden", "garnet", "geyser", "ginger", "glacier", "granite",
	"grape", "gravel", "harbor", "hazel", "heron", "hickory", "honey", "horizon", "iris",
	"island", "ivory", "jade", "jasmine", "jungle", "juniper", "kettle", "kiwi", "koala",
	"lagoon", "lantern", "lemon", "lilac", "linen", "lotus", "lunar", "maple", "marble",
	"meadow", "melon", "mesa", "meteor", "mint", "mist", "monsoon", "moss", "nectar",
	"nickel", "nova", "oak", "oasis", "ocean", "olive", "onyx", "orbit", "orchid", "otter",
	"oyster", "paddle", "panda", "papaya", "pebble", "pepper", "pine", "planet", "plum",
	"polar", "pond", "poppy", "prairie", "quartz", "quill", "rain", "raven", "reef",
	"ridge", "river", "robin", "ruby", "saffron", "sage", "salmon", "sand", "sapphire",
	"sequoia", "shadow", "shell", "sierra", "silver", "sky", "slate", "snow", "sparrow",
	"spruce", "star", "stone", "storm", "summit", "sun", "swift", "tango", "thistle",
	"thunder", "tiger", "timber", "topaz", "tulip", "tundra", "valley", "velvet", "violet",
	"walnut", "willow", "winter", "wren", "yarrow", "zephyr", "zinc",
}
