package planner

import "hivework.ai/internal/sim/tasks"

// NormalizeRotation maps a rotation given in quarter turns (0..3) or in
// degrees (multiples of 90) onto a quarter-turn count in [0,3].
func NormalizeRotation(r int) int {
	if r%90 == 0 && (r > 3 || r < -3) {
		r = r / 90
	}
	r %= 4
	if r < 0 {
		r += 4
	}
	return r
}

// rotateY turns a blueprint offset clockwise around the Y axis by rot quarter
// turns.
func rotateY(off [3]int, rot int) tasks.Vec3i {
	x, y, z := off[0], off[1], off[2]
	switch rot & 3 {
	case 1:
		x, z = z, -x
	case 2:
		x, z = -x, -z
	case 3:
		x, z = -z, x
	}
	return tasks.Vec3i{X: x, Y: y, Z: z}
}
