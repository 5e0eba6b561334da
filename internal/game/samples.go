package game

// Canonical starting positions. Both are mirror-symmetric full-width setups;
// tournament matches always use one of these, picked deterministically from
// the match ID.

func Sample0() *Board {
	return boardFromRows([Size]string{
		"nqkbr",
		"ppppp",
		".....",
		"PPPPP",
		"RBKQN",
	})
}

func Sample1() *Board {
	return boardFromRows([Size]string{
		"rqknb",
		"ppppp",
		".....",
		"PPPPP",
		"BNKQR",
	})
}

// SampleBoards lists the canonical boards in index order.
func SampleBoards() []*Board {
	return []*Board{Sample0(), Sample1()}
}

func boardFromRows(rows [Size]string) *Board {
	b := &Board{}
	for y, row := range rows {
		for x, c := range row {
			if c == '.' {
				continue
			}
			b.Squares[y][x] = c
		}
	}
	return b
}
