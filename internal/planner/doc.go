// Package planner is the roadside scheduler. Each tick it dead-reckons every
// perceived vehicle forward by its communication delay, gives every vehicle a
// natural one-tick target speed, and searches the merge lane for a mainline
// vehicle whose predicted arrival at the merge point leaves room for the
// leading ramp vehicle. The first feasible candidate wins and the pair's
// natural targets are replaced by bounded one-tick adjustments.
//
// Every plan is appended to a snapshot log so the executor can replay the
// advisory a vehicle actually holds, i.e. the one issued a delay ago.
package planner
