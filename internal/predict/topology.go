package predict

// Edge connects two landmark indices with a line.
type Edge struct {
	A int
	B int
}

// HandConnections links the 21 hand landmarks (wrist, then four joints per finger).
var HandConnections = []Edge{
	{0, 1}, {1, 2}, {2, 3}, {3, 4},
	{0, 5}, {5, 6}, {6, 7}, {7, 8},
	{5, 9}, {9, 10}, {10, 11}, {11, 12},
	{9, 13}, {13, 14}, {14, 15}, {15, 16},
	{13, 17}, {17, 18}, {18, 19}, {19, 20},
	{0, 17},
}

// PoseConnections links the 33 body pose landmarks.
var PoseConnections = []Edge{
	{0, 1}, {1, 2}, {2, 3}, {3, 7}, {0, 4}, {4, 5}, {5, 6}, {6, 8},
	{9, 10}, {11, 12}, {11, 13}, {13, 15}, {15, 17}, {15, 19}, {15, 21},
	{17, 19}, {12, 14}, {14, 16}, {16, 18}, {16, 20}, {16, 22}, {18, 20},
	{11, 23}, {12, 24}, {23, 24}, {23, 25}, {24, 26}, {25, 27}, {26, 28},
	{27, 29}, {28, 30}, {29, 31}, {30, 32}, {27, 31}, {28, 32},
}
