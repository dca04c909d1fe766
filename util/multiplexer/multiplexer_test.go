package multiplexer

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestManyToOneCollects(t *testing.T) {
	plexer := NewManyToOne(make(chan int, 16))
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := plexer.Send(i); err != nil {
				t.Errorf("Send failed: %s", err)
			}
		}(i)
	}
	wg.Wait()
	sum := 0
	for i := 0; i < 4; i++ {
		sum += <-plexer.Receiver()
	}
	if sum != 6 {
		t.Errorf("Received sum %d, expected 6", sum)
	}
	plexer.Close()
	plexer.Close()
	if err := plexer.Send(1); err != ErrClosed {
		t.Errorf("Send after close returned %v", err)
	}
}

func TestManyToOneCloseReleasesBlockedSender(t *testing.T) {
	plexer := NewManyToOne(make(chan int))
	result := make(chan error, 1)
	go func() { result <- plexer.Send(1) }()
	time.Sleep(10 * time.Millisecond)
	plexer.Close()
	select {
	case err := <-result:
		if err != ErrClosed {
			t.Errorf("Blocked send returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Blocked sender not released by Close")
	}
}

func TestOneToManyFansOut(t *testing.T) {
	plexer := NewOneToMany[string](4)
	a, err := plexer.MakeReceiver("a")
	if err != nil {
		t.Fatalf("MakeReceiver failed: %s", err)
	}
	b, _ := plexer.MakeReceiver("b")
	if _, err := plexer.MakeReceiver("a"); err != ErrReceiverExists {
		t.Errorf("Duplicate receiver returned %v", err)
	}
	go plexer.StartPlexer()

	plexer.GetSender() <- "first"
	plexer.GetSender() <- "second"
	for _, rec := range []<-chan string{a, b} {
		if got := <-rec; got != "first" {
			t.Errorf("Got %q, expected first", got)
		}
		if got := <-rec; got != "second" {
			t.Errorf("Got %q, expected second", got)
		}
	}

	plexer.CloseReceiver("b")
	if _, ok := <-b; ok {
		t.Errorf("Closed receiver still open")
	}
	plexer.CloseSender()
	if _, ok := <-a; ok {
		t.Errorf("Receiver still open after CloseSender")
	}
}

func TestOneToManyWarnsAboutDrops(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	plexer := NewOneToMany[string](1)
	slow, _ := plexer.MakeReceiver("slow")
	go plexer.StartPlexer()

	plexer.GetSender() <- "kept"
	plexer.GetSender() <- "dropped"
	plexer.CloseSender()
	var got []string
	for msg := range slow {
		got = append(got, msg)
	}
	if len(got) != 1 || got[0] != "kept" {
		t.Errorf("Receiver got %v, expected only the first message", got)
	}

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["receiver"] == "slow" && entry.Data["message"] == "dropped" {
			warned = true
		}
	}
	if !warned {
		t.Errorf("Dropping a message was not logged")
	}
}
