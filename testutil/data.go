package testutil

// ValidLines contains one raw transport line per supported wire shape.
var ValidLines = []string{
	`{"sensorId": 1, "value": 25.4, "time": "2025-10-12T14:10:00Z", "location": "Factory A"}`,
	`{"sensor id": 2, "val": 19.8}`,
	`1,25.4,2025-10-12T14:10:00Z,Factory A`,
	`id=3; val=99.9`,
	`temp=21.5; devId=4; loc=roof`,
	`3 18.2`,
}

// GarbageLines contains lines no decode rule accepts.
var GarbageLines = []string{
	``,
	`garbage`,
	`{"broken": `,
	`id=5`,
	`one two three`,
	`,,,`,
}

// SteadyValues is a flat-ish baseline; appending an extreme value to it
// produces a z-score well past the default threshold.
var SteadyValues = []float64{
	20.1, 19.9, 20.0, 20.2, 19.8, 20.1, 20.0, 19.9, 20.3, 19.7,
	20.0, 20.1, 19.9, 20.2, 19.8, 20.0, 20.1, 19.9, 20.0, 20.2,
}

// OutlierValue sits far outside SteadyValues.
const OutlierValue = 95.0
