package catalog

import (
	"context"
	"testing"
)

func TestUpsertTorrentInstanceAndSiblings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	d := registerTestDevice(t, db, "uuid-torrent")

	if err := db.UpsertPayload(ctx, &Payload{PayloadHash: "payload-x", DeviceID: d.ID, RootPath: "/warm/show", FileCount: 1, TotalBytes: 1}); err != nil {
		t.Fatal(err)
	}

	t1 := &TorrentInstance{InfoHash: "hash-1", PayloadHash: "payload-x", DeviceID: d.ID, SavePath: "/warm", ContentRoot: "/warm/show", Tags: []string{"tv", "4k"}}
	t2 := &TorrentInstance{InfoHash: "hash-2", PayloadHash: "payload-x", DeviceID: d.ID, SavePath: "/cold", ContentRoot: "/cold/show"}

	if err := db.UpsertTorrentInstance(ctx, t1); err != nil {
		t.Fatalf("UpsertTorrentInstance t1: %v", err)
	}
	if err := db.UpsertTorrentInstance(ctx, t2); err != nil {
		t.Fatalf("UpsertTorrentInstance t2: %v", err)
	}

	got, err := db.TorrentByInfoHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("TorrentByInfoHash: %v", err)
	}
	if got == nil || len(got.Tags) != 2 || got.Tags[0] != "tv" {
		t.Fatalf("got %+v", got)
	}

	siblings, err := db.SiblingTorrents(ctx, "payload-x", "hash-1")
	if err != nil {
		t.Fatalf("SiblingTorrents: %v", err)
	}
	if len(siblings) != 1 || siblings[0].InfoHash != "hash-2" {
		t.Fatalf("got %+v", siblings)
	}
}

func TestTorrentsUnderPath(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	d := registerTestDevice(t, db, "uuid-torrent2")

	if err := db.UpsertTorrentInstance(ctx, &TorrentInstance{InfoHash: "h1", DeviceID: d.ID, SavePath: "/warm", ContentRoot: "/warm/seeding/show"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertTorrentInstance(ctx, &TorrentInstance{InfoHash: "h2", DeviceID: d.ID, SavePath: "/warm", ContentRoot: "/warm/other/movie"}); err != nil {
		t.Fatal(err)
	}

	got, err := db.TorrentsUnderPath(ctx, d.ID, "/warm/seeding")
	if err != nil {
		t.Fatalf("TorrentsUnderPath: %v", err)
	}
	if len(got) != 1 || got[0].InfoHash != "h1" {
		t.Fatalf("got %+v", got)
	}
}

func TestTorrentsByTag(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	d := registerTestDevice(t, db, "uuid-torrent3")

	if err := db.UpsertTorrentInstance(ctx, &TorrentInstance{InfoHash: "h1", DeviceID: d.ID, SavePath: "/warm", ContentRoot: "/warm/a", Tags: []string{"movies", "4k"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertTorrentInstance(ctx, &TorrentInstance{InfoHash: "h2", DeviceID: d.ID, SavePath: "/warm", ContentRoot: "/warm/b", Tags: []string{"tv"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertTorrentInstance(ctx, &TorrentInstance{InfoHash: "h3", DeviceID: d.ID, SavePath: "/warm", ContentRoot: "/warm/c", Tags: []string{"movies"}}); err != nil {
		t.Fatal(err)
	}

	got, err := db.TorrentsByTag(ctx, "movies")
	if err != nil {
		t.Fatalf("TorrentsByTag: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 torrents tagged movies, got %+v", got)
	}
}
