package cmd

import (
	"fmt"
	"strconv"
)

// rankEnvPairs lists (rank, size) variables checked in order: our own,
// then the common MPI launchers.
var rankEnvPairs = [][2]string{
	{"REMD_RANK", "REMD_WORLD_SIZE"},
	{"OMPI_COMM_WORLD_RANK", "OMPI_COMM_WORLD_SIZE"},
	{"PMI_RANK", "PMI_SIZE"},
	{"MV2_COMM_WORLD_RANK", "MV2_COMM_WORLD_SIZE"},
}

// rankFromEnv returns the process rank and world size set by a launcher.
func rankFromEnv(lookup func(string) (string, bool)) (rank, size int, found bool, err error) {
	for _, pair := range rankEnvPairs {
		r, okR := lookup(pair[0])
		s, okS := lookup(pair[1])
		if !okR || !okS {
			continue
		}
		if rank, err = strconv.Atoi(r); err != nil {
			return 0, 0, false, fmt.Errorf("%s=%q: %w", pair[0], r, err)
		}
		if size, err = strconv.Atoi(s); err != nil {
			return 0, 0, false, fmt.Errorf("%s=%q: %w", pair[1], s, err)
		}
		if rank < 0 || size < 1 || rank >= size {
			return 0, 0, false, fmt.Errorf("%s=%d outside %s=%d", pair[0], rank, pair[1], size)
		}
		return rank, size, true, nil
	}
	return 0, 0, false, nil
}
