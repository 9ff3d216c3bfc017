//go:build !race

package auth

func dummyHashCost() int {
	return DefaultBcryptCost
}
