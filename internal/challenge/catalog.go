package challenge

// Field is one entry of the fixed knowledge catalog. Key doubles as the
// profile attribute name and the challenge identifier on the wire.
type Field struct {
	Key    string
	Prompt string
}

var catalog = [...]Field{
	{Key: "nickname", Prompt: "What is your nickname?"},
	{Key: "shoeSize", Prompt: "What is your shoe size?"},
	{Key: "favoriteColor", Prompt: "What is your favorite color?"},
	{Key: "birthPlace", Prompt: "Where were you born?"},
	{Key: "petName", Prompt: "What is your pet's name?"},
	{Key: "motherMaidenName", Prompt: "What is your mother's maiden name?"},
	{Key: "firstSchool", Prompt: "What is the name of your first school?"},
	{Key: "childhoodFriend", Prompt: "Who was your childhood friend?"},
}

// Catalog returns a copy of the catalog in its canonical order.
func Catalog() []Field {
	out := make([]Field, len(catalog))
	copy(out, catalog[:])
	return out
}

// Lookup returns the catalog entry for key.
func Lookup(key string) (Field, bool) {
	for _, f := range catalog {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}
