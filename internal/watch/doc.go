// Package watch turns fsnotify events under a served root into ChangeEvents
// and fans them out to any number of subscribers through a watermill
// gochannel topic per root. Delivery is best-effort: events published while
// nobody is subscribed are dropped, and nothing is replayed to late
// subscribers.
package watch
