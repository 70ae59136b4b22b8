package lib

import "fmt"
import "encoding/json"

// Prettystats uses json.MarshalIndent, if pretty is true, instead of
// json.Marshal. If Marshal return error Prettystats will panic.
func Prettystats(stats map[string]interface{}, pretty bool) string {
	if pretty {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			panic(err)
		}
		return string(data)
	}
	data, err := json.Marshal(stats)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// Assertf panics with a formatted message if cond is false. Used for
// invariant checks that must abort the process rather than return an
// error, because the caller cannot be trusted to react sanely once the
// allocator's book-keeping has been shown to be wrong.
func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Errorf(format, args...))
	}
}

// Ceildiv returns ceil(num/den) for positive num, den.
func Ceildiv(num, den int64) int64 {
	if num%den == 0 {
		return num / den
	}
	return (num / den) + 1
}
