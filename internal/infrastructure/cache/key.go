package cache

import "net/url"

// Key builds the cache key for endpoint and its query params. Params are
// encoded in sorted order, so equal requests always map to the same key.
func Key(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}
	return endpoint + "?" + values.Encode()
}
