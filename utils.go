package aureuspay

import "net/url"

// urlQuery builds a single-pair query string.
func urlQuery(key, value string) url.Values {
	return url.Values{key: {value}}
}
