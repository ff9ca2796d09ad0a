package entity

// Record is the stored form of an indexed location: the location plus its
// fixed-precision geohash, which the store orders range scans by.
type Record struct {
	Geohash  string
	Location Location
}
