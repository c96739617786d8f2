// Package delay estimates the round-trip communication delay between the
// roadside controller and each vehicle.
//
// Two variants implement [Model]:
//
//   - [Adaptive]: while a vehicle is inside the estimation zone, one one-way
//     sample per tick is drawn from a normal distribution bounded below by
//     zero. The last [RecordCapacity] samples are kept and, once at least
//     [MinSamples] exist, the round-trip estimate is twice their mean.
//   - [Fixed]: one constant delay for every vehicle.
//
// Vehicles without an estimate get the model's default delay.
package delay
