package lifetime

import "testing"

func TestWatchReportsDestroyingAfterSet(t *testing.T) {
	var l Lifetime
	flag := l.Watch()

	if flag.Destroyed() {
		t.Fatal("flag reports destroyed before SetDestroying")
	}
	l.SetDestroying()
	if !flag.Destroyed() {
		t.Fatal("flag does not report destroyed after SetDestroying")
	}
}

func TestSetDestroyingIsIdempotent(t *testing.T) {
	var l Lifetime
	l.SetDestroying()
	l.SetDestroying()
	if !l.Destroying() {
		t.Fatal("Destroying() false after repeated SetDestroying")
	}
}

func TestZeroValueFlagNeverDestroyed(t *testing.T) {
	var flag DestroyedFlag
	if flag.Destroyed() {
		t.Fatal("zero-value DestroyedFlag reports destroyed")
	}
}

func TestWatchSurvivesLifetimeGoingOutOfScope(t *testing.T) {
	var flag DestroyedFlag
	func() {
		var l Lifetime
		flag = l.Watch()
		l.SetDestroying()
	}()
	if !flag.Destroyed() {
		t.Fatal("flag lost destroyed state after its Lifetime went out of scope")
	}
}
