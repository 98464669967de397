// Package order generates sortable string keys for sibling ordering.
//
// Keys ("at" values) sort by plain byte comparison. Inserting a record
// between two siblings only ever mints a new key; no existing record is
// renumbered. Keys are built from a base-62 digit set with a variable-length
// integer part followed by an optional fractional part:
//
//   - The first byte encodes the integer part's length: 'a'..'z' for
//     positive integers of 2..27 bytes, 'A'..'Z' for negative integers of
//     27..2 bytes.
//   - The fractional part never ends in '0', so every key has exactly one
//     canonical spelling.
//
// The zero key (first key in an empty order) is "a0".
package order

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// digits is the base-62 alphabet, in byte order.
const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// smallestInteger is the minimum representable integer part.
// No valid key may equal it exactly, because nothing could sort below
// a key with this integer part and an empty fractional part.
const smallestInteger = "A00000000000000000000000000"

// ErrNoLowerKey is returned when no key below the requested bound exists.
// In practice this requires on the order of 62^26 decrements and indicates
// caller misuse rather than key-space exhaustion.
var ErrNoLowerKey = errors.New("order: key space exhausted below lower bound")

// integerLength returns the byte length of a key's integer part,
// derived from its head byte.
func integerLength(head byte) (int, error) {
	switch {
	case head >= 'a' && head <= 'z':
		return int(head-'a') + 2, nil
	case head >= 'A' && head <= 'Z':
		return int('Z'-head) + 2, nil
	default:
		return 0, fmt.Errorf("order: invalid key head %q", string(head))
	}
}

// integerPart returns the leading integer portion of key.
func integerPart(key string) (string, error) {
	n, err := integerLength(key[0])
	if err != nil {
		return "", err
	}
	if n > len(key) {
		return "", fmt.Errorf("order: key %q shorter than its integer part", key)
	}
	return key[:n], nil
}

// ValidateKey reports whether key is a well-formed order key.
func ValidateKey(key string) error {
	if key == "" {
		return errors.New("order: empty key")
	}
	if key == smallestInteger {
		return fmt.Errorf("order: key %q is below the representable range", key)
	}
	ip, err := integerPart(key)
	if err != nil {
		return err
	}
	frac := key[len(ip):]
	if strings.HasSuffix(frac, string(digits[0])) {
		return fmt.Errorf("order: key %q has a trailing zero", key)
	}
	for i := 0; i < len(key); i++ {
		if i > 0 && strings.IndexByte(digits, key[i]) < 0 {
			return fmt.Errorf("order: key %q contains invalid byte %q", key, string(key[i]))
		}
	}
	return nil
}

// incrementInteger returns the next integer part above x, or "" when x is
// the maximum representable integer.
func incrementInteger(x string) string {
	head := x[0]
	digs := []byte(x[1:])
	carry := true
	for i := len(digs) - 1; carry && i >= 0; i-- {
		d := strings.IndexByte(digits, digs[i]) + 1
		if d == len(digits) {
			digs[i] = digits[0]
		} else {
			digs[i] = digits[d]
			carry = false
		}
	}
	if carry {
		if head == 'Z' {
			return "a" + string(digits[0])
		}
		if head == 'z' {
			return ""
		}
		h := head + 1
		if h > 'a' {
			digs = append(digs, digits[0])
		} else {
			digs = digs[:len(digs)-1]
		}
		return string(h) + string(digs)
	}
	return string(head) + string(digs)
}

// decrementInteger returns the next integer part below x, or "" when x is
// the minimum representable integer.
func decrementInteger(x string) string {
	head := x[0]
	digs := []byte(x[1:])
	borrow := true
	for i := len(digs) - 1; borrow && i >= 0; i-- {
		d := strings.IndexByte(digits, digs[i]) - 1
		if d == -1 {
			digs[i] = digits[len(digits)-1]
		} else {
			digs[i] = digits[d]
			borrow = false
		}
	}
	if borrow {
		if head == 'a' {
			return "Z" + string(digits[len(digits)-1])
		}
		if head == 'A' {
			return ""
		}
		h := head - 1
		if h < 'Z' {
			digs = append(digs, digits[len(digits)-1])
		} else {
			digs = digs[:len(digs)-1]
		}
		return string(h) + string(digs)
	}
	return string(head) + string(digs)
}

// midpoint returns the shortest digit string strictly between fractional
// parts a and b, where "" as b means no upper bound. Both inputs must be
// free of trailing zeros.
func midpoint(a, b string) string {
	if b != "" {
		// Strip the longest common prefix and recurse past it.
		n := 0
		for n < len(b) {
			ca := byte(digits[0])
			if n < len(a) {
				ca = a[n]
			}
			if ca != b[n] {
				break
			}
			n++
		}
		if n > 0 {
			var sa string
			if n < len(a) {
				sa = a[n:]
			}
			return b[:n] + midpoint(sa, b[n:])
		}
	}
	digitA := 0
	if a != "" {
		digitA = strings.IndexByte(digits, a[0])
	}
	digitB := len(digits)
	if b != "" {
		digitB = strings.IndexByte(digits, b[0])
	}
	if digitB-digitA > 1 {
		mid := (digitA + digitB + 1) / 2
		return string(digits[mid])
	}
	// Consecutive digits: keep b's first digit, or extend a.
	if len(b) > 1 {
		return b[:1]
	}
	var rest string
	if a != "" {
		rest = a[1:]
	}
	return string(digits[digitA]) + midpoint(rest, "")
}

// GenerateKeyBetween returns a key that sorts strictly between lower and
// upper. An empty string means "no bound" on that side. The returned key is
// canonical and never requires renumbering existing keys.
func GenerateKeyBetween(lower, upper string) (string, error) {
	if lower != "" {
		if err := ValidateKey(lower); err != nil {
			return "", err
		}
	}
	if upper != "" {
		if err := ValidateKey(upper); err != nil {
			return "", err
		}
	}
	if lower != "" && upper != "" && lower >= upper {
		return "", fmt.Errorf("order: lower %q is not below upper %q", lower, upper)
	}

	if lower == "" {
		if upper == "" {
			return "a" + string(digits[0]), nil
		}
		ib, err := integerPart(upper)
		if err != nil {
			return "", err
		}
		fb := upper[len(ib):]
		if ib == smallestInteger {
			return ib + midpoint("", fb), nil
		}
		if ib < upper {
			return ib, nil
		}
		dec := decrementInteger(ib)
		if dec == "" {
			return "", ErrNoLowerKey
		}
		return dec, nil
	}

	if upper == "" {
		ia, err := integerPart(lower)
		if err != nil {
			return "", err
		}
		fa := lower[len(ia):]
		inc := incrementInteger(ia)
		if inc == "" {
			return ia + midpoint(fa, ""), nil
		}
		return inc, nil
	}

	ia, err := integerPart(lower)
	if err != nil {
		return "", err
	}
	fa := lower[len(ia):]
	ib, err := integerPart(upper)
	if err != nil {
		return "", err
	}
	fb := upper[len(ib):]
	if ia == ib {
		return ia + midpoint(fa, fb), nil
	}
	inc := incrementInteger(ia)
	if inc == "" {
		return "", errors.New("order: key space exhausted above lower bound")
	}
	if inc < upper {
		return inc, nil
	}
	return ia + midpoint(fa, ""), nil
}

// GenerateNKeysBetween returns n keys sorting strictly between lower and
// upper, themselves in ascending order. Used for bulk inserts so that an
// import of n records needs one call rather than n pairwise generations.
func GenerateNKeysBetween(lower, upper string, n int) ([]string, error) {
	if n < 0 {
		return nil, fmt.Errorf("order: negative key count %d", n)
	}
	if n == 0 {
		return []string{}, nil
	}
	if n == 1 {
		k, err := GenerateKeyBetween(lower, upper)
		if err != nil {
			return nil, err
		}
		return []string{k}, nil
	}
	if upper == "" {
		keys := make([]string, 0, n)
		c := lower
		for i := 0; i < n; i++ {
			k, err := GenerateKeyBetween(c, "")
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			c = k
		}
		return keys, nil
	}
	if lower == "" {
		keys := make([]string, n)
		c := upper
		for i := n - 1; i >= 0; i-- {
			k, err := GenerateKeyBetween("", c)
			if err != nil {
				return nil, err
			}
			keys[i] = k
			c = k
		}
		return keys, nil
	}
	// Bisect: generate the middle key, then fill both halves around it.
	mid := n / 2
	c, err := GenerateKeyBetween(lower, upper)
	if err != nil {
		return nil, err
	}
	left, err := GenerateNKeysBetween(lower, c, mid)
	if err != nil {
		return nil, err
	}
	right, err := GenerateNKeysBetween(c, upper, n-mid-1)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, n)
	keys = append(keys, left...)
	keys = append(keys, c)
	keys = append(keys, right...)
	return keys, nil
}

// KeyBelowAll returns a key sorting below every key in existing.
// Used to repair a caller-supplied key that collides with a live sibling:
// the colliding record is re-minted first rather than allowed to share a
// key. An empty existing set yields the zero key.
func KeyBelowAll(existing []string) (string, error) {
	if len(existing) == 0 {
		return GenerateKeyBetween("", "")
	}
	sorted := make([]string, len(existing))
	copy(sorted, existing)
	sort.Strings(sorted)
	return GenerateKeyBetween("", sorted[0])
}
