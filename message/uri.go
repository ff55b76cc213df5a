package message

import (
	"net/url"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/mr-tron/base58"
	mh "github.com/multiformats/go-multihash"
)

const ipfsPrefix = "/ipfs/"

// URI references a thing a message asserts something about. Four shapes are
// accepted: URLs, content identifiers (CIDs), bare base58 multihashes, and
// fully qualified dotted names. Anything starting with /ipfs/ must carry a
// valid CID or multihash; the other shapes are not considered for it.
type URI string

// IsValid reports whether the value matches at least one accepted shape.
func (u URI) IsValid() bool {
	if u == "" {
		return false
	}
	if u.IsCID() {
		return true
	}
	if !strings.HasPrefix(string(u), ipfsPrefix) && u.IsURL() {
		return true
	}
	if u.IsMultihash() {
		return true
	}
	if !strings.HasPrefix(string(u), ipfsPrefix) && u.IsFQN() {
		return true
	}
	return false
}

// IsURL reports whether the value parses as a URL with a scheme, a host and
// a path.
func (u URI) IsURL() bool {
	parsed, err := url.Parse(string(u))
	if err != nil {
		return false
	}
	return parsed.Scheme != "" && parsed.Host != "" && parsed.Path != ""
}

// IsCID reports whether the value is a content identifier, optionally
// wrapped in an /ipfs/ path.
func (u URI) IsCID() bool {
	_, err := cid.Decode(u.stripIPFS())
	return err == nil
}

// IsMultihash reports whether the value is a base58 encoded multihash,
// optionally wrapped in an /ipfs/ path.
func (u URI) IsMultihash() bool {
	raw, err := base58.Decode(u.stripIPFS())
	if err != nil {
		return false
	}
	_, err = mh.Cast(raw)
	return err == nil
}

// IsFQN reports whether the value is a fully qualified name, at least three
// dot-separated segments.
func (u URI) IsFQN() bool {
	return strings.Count(string(u), ".") >= 2
}

func (u URI) stripIPFS() string {
	return strings.TrimPrefix(string(u), ipfsPrefix)
}

func (u URI) String() string {
	return string(u)
}
