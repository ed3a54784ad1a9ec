package namegen

import (
	"fmt"
	"strings"

	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

type ID string

func Get() ID {
	return ID(gen.Get())
}

// Node returns a fresh server name made of prefix and a generated id.
// Server names are lower-cased as some OpenStack deployments use them as hostnames.
func Node(prefix string) string {
	if prefix == "" {
		return strings.ToLower(gen.Get())
	}
	return strings.ToLower(fmt.Sprintf("%s-%s", prefix, gen.Get()))
}

func (id ID) String() string {
	return string(id)
}
