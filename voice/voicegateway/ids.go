package voicegateway

import (
	"strconv"

	"github.com/pkg/errors"
)

// ID is a 64-bit identifier (guild/server, user, ...). JSON doubles cannot
// hold the full uint64 range, so the wire format is a JSON string; ID
// marshals and parses accordingly.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

func (id *ID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return errors.Wrap(err, "failed to parse ID")
	}

	*id = ID(u)
	return nil
}
