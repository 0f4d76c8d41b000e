package main

import "github.com/c2h5oh/datasize"

// byteSizeFlag adapts datasize.ByteSize to pflag.Value so chunk capacities
// can be given on the command line in human units ("8MB", "512MiB"),
// matching the teacher's own preference for datasize over raw byte counts.
type byteSizeFlag struct {
	v *datasize.ByteSize
}

func (f byteSizeFlag) String() string {
	if f.v == nil {
		return ""
	}
	return f.v.String()
}

func (f byteSizeFlag) Set(s string) error {
	return f.v.UnmarshalText([]byte(s))
}

func (f byteSizeFlag) Type() string { return "byteSize" }
