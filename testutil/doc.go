// Package testutil provides fixtures and an in-memory chain for tests of the
// submitter packages. It must not import the root package so that the root
// package tests can use it.
//
// # Fake chain
//
// FakeChain implements chain.Client. Blocks are produced explicitly:
//
//	fc := testutil.NewFakeChain(testutil.ChainIDDev)
//	stop := fc.MineEvery(20 * time.Millisecond)
//	defer stop()
//
// Reorgs are simulated with Snapshot and Revert; SendHook and RevertHook
// inject broadcast failures and reverted receipts.
//
// # Fixtures
//
//   - TestPrivateKey1, TestPrivateKey2 and their addresses
//   - TestAddr1..3 for addresses that never sign
//   - OneEth, TwentyGwei, TwoGwei, Gwei(n)
//   - MockNetwork, a configurable jarvis network
package testutil
