package spanmap

import "math"

const (
	// largest prime below the maximum slice length used for table sizes
	maxPrimeArrayLength = 0x7FFFFFC3

	hashPrime = 101
)

// primes is the ladder of table sizes. Each step is the smallest prime
// larger than roughly 1.2x the previous one.
var primes = [...]int{
	3, 7, 11, 17, 23, 29, 37, 47, 59, 71, 89, 107, 131, 163, 197, 239, 293, 353, 431, 521, 631, 761, 919,
	1103, 1327, 1597, 1931, 2333, 2801, 3371, 4049, 4861, 5839, 7013, 8419, 10103, 12143, 14591,
	17519, 21023, 25229, 30293, 36353, 43627, 52361, 62851, 75431, 90523, 108631, 130363, 156437,
	187751, 225307, 270371, 324449, 389357, 467237, 560689, 672827, 807403, 968897, 1162687, 1395263,
	1674319, 2009191, 2411033, 2893249, 3471899, 4166287, 4999559, 5999471, 7199369,
}

func isPrime(candidate int) bool {
	if candidate&1 == 0 {
		return candidate == 2
	}

	limit := int(math.Sqrt(float64(candidate)))
	for divisor := 3; divisor <= limit; divisor += 2 {
		if candidate%divisor == 0 {
			return false
		}
	}

	return candidate > 1
}

// getPrime returns the smallest table size that is at least n.
func getPrime(n int) int {
	if n < 0 {
		panic("spanmap: capacity overflow")
	}

	for _, p := range primes {
		if p >= n {
			return p
		}
	}

	// past the ladder: search, skipping primes that collide with hashPrime
	for i := n | 1; i < math.MaxInt32; i += 2 {
		if isPrime(i) && (i-1)%hashPrime != 0 {
			return i
		}
	}

	return n
}

// expandPrime returns the size to grow a table of oldSize entries to.
func expandPrime(oldSize int) int {
	newSize := 2 * oldSize
	if newSize > maxPrimeArrayLength && maxPrimeArrayLength > oldSize {
		return maxPrimeArrayLength
	}

	return getPrime(newSize)
}
