package errand

import (
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"runtime"
	"strconv"
)

// IdentityForFunc derives a registry key from the function's symbol and the
// source position of its body. The same function, or the same function
// literal, always maps to the same key. This is deduplication, not a
// guarantee: two closures built from one literal share a key, so give them
// names when they must stay distinct.
func IdentityForFunc(fn Func) string {
	pc := reflect.ValueOf(fn).Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return hashFields("func", strconv.FormatUint(uint64(pc), 16))
	}
	file, line := f.FileLine(f.Entry())
	return hashFields("func", f.Name(), file, strconv.Itoa(line))
}

// IdentityForName derives a registry key from an explicit errand name.
func IdentityForName(name string) string {
	return hashFields("name", name)
}

// hashFields length-prefixes every field so that ("ab","c") and ("a","bc")
// never collide.
func hashFields(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
