// sweepr - stale cloud resource reconciler
// Track what awsweeper sees, queue what outlived its welcome.
package main

func main() {
	Execute()
}
