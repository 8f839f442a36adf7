package session

import "testing"

func establishedPair(t *testing.T) (a, b *SessionKey) {
	t.Helper()

	kpA, err := NewEphemeralKeyPair()
	if err != nil {
		t.Fatalf("NewEphemeralKeyPair A: %v", err)
	}
	kpB, err := NewEphemeralKeyPair()
	if err != nil {
		t.Fatalf("NewEphemeralKeyPair B: %v", err)
	}

	prefixA, err := RandomPrefix()
	if err != nil {
		t.Fatalf("RandomPrefix A: %v", err)
	}
	prefixB, err := RandomPrefix()
	if err != nil {
		t.Fatalf("RandomPrefix B: %v", err)
	}

	// A sends with prefix A, receives with prefix B; B is the mirror image.
	a, err = Derive(kpA, kpB.Public, prefixA, prefixB)
	if err != nil {
		t.Fatalf("Derive A: %v", err)
	}
	b, err = Derive(kpB, kpA.Public, prefixB, prefixA)
	if err != nil {
		t.Fatalf("Derive B: %v", err)
	}
	return a, b
}

func TestBoxUnboxRoundTrip(t *testing.T) {
	a, b := establishedPair(t)

	plaintext := []byte("hello mesh")
	ciphertext, counter, err := a.Box(plaintext, nil)
	if err != nil {
		t.Fatalf("Box: %v", err)
	}

	got, err := b.Unbox(ciphertext, nil, counter)
	if err != nil {
		t.Fatalf("Unbox: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestUnboxRejectsBitFlip(t *testing.T) {
	a, b := establishedPair(t)

	ciphertext, counter, err := a.Box([]byte("integrity matters"), nil)
	if err != nil {
		t.Fatalf("Box: %v", err)
	}

	ciphertext[0] ^= 0x01

	if _, err := b.Unbox(ciphertext, nil, counter); err != ErrAuth {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestUnboxRejectsNonceReuse(t *testing.T) {
	a, b := establishedPair(t)

	ciphertext1, counter1, err := a.Box([]byte("first"), nil)
	if err != nil {
		t.Fatalf("Box: %v", err)
	}
	if _, err := b.Unbox(ciphertext1, nil, counter1); err != nil {
		t.Fatalf("Unbox first: %v", err)
	}

	ciphertext2, counter2, err := a.Box([]byte("second"), nil)
	if err != nil {
		t.Fatalf("Box: %v", err)
	}
	if counter2 <= counter1 {
		t.Fatalf("expected counter to strictly increase, got %d then %d", counter1, counter2)
	}

	// Replaying the first ciphertext/counter must be rejected even though the
	// ciphertext itself is valid.
	if _, err := b.Unbox(ciphertext1, nil, counter1); err != ErrReplay {
		t.Fatalf("expected ErrReplay, got %v", err)
	}
}

func TestDerivedKeysMatchBothDirections(t *testing.T) {
	a, b := establishedPair(t)

	msg := []byte("bidirectional")
	ciphertext, counter, err := b.Box(msg, []byte("aad"))
	if err != nil {
		t.Fatalf("Box from b: %v", err)
	}

	got, err := a.Unbox(ciphertext, []byte("aad"), counter)
	if err != nil {
		t.Fatalf("Unbox at a: %v", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("got %q want %q", got, msg)
	}
}
