package tests

import (
	"strings"
	"testing"

	"patchhub/hub/schema"
)

func TestFavoriteNotifiesOwnerOnce(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	fan, err := env.newUser("fan")
	if err != nil {
		t.Fatal(err)
	}

	patchId, err := owner.createPatch("galgame-fix", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Toggling a favorite repeatedly must produce a single notification.
	for i := 0; i < 3; i++ {
		if err := fan.favorite(patchId); err != nil {
			t.Fatal(err)
		}
	}

	messages, err := owner.listMessages("")
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(messages))
	}

	msg := messages[0]
	if msg.Type != schema.MessageFavorite || msg.SenderName != "fan" {
		t.Fatalf("invalid message %v", msg)
	}
	if !strings.Contains(msg.Content, "fan") || !strings.Contains(msg.Content, "galgame-fix") {
		t.Fatalf("invalid message content %v", msg.Content)
	}
	if !strings.HasPrefix(msg.Link, "/patch/") {
		t.Fatalf("invalid message link %v", msg.Link)
	}

	// The fan's own inbox stays empty.
	fanMessages, err := fan.listMessages("")
	if err != nil {
		t.Fatal(err)
	}
	if len(fanMessages) != 0 {
		t.Fatalf("fan should have no messages, got %d", len(fanMessages))
	}
}

func TestFavoriteOwnPatchIsNoop(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	patchId, err := owner.createPatch("galgame-fix", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.favorite(patchId); err != nil {
		t.Fatal(err)
	}

	messages, err := owner.listMessages("")
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 0 {
		t.Fatalf("favoriting own patch should not notify, got %d messages", len(messages))
	}

	if err := owner.favorite(99999); err == nil {
		t.Fatal("favoriting a missing patch should fail")
	}
}

func TestDistinctFavoritesAreNotDeduped(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	patchId, err := owner.createPatch("galgame-fix", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"fan1", "fan2"} {
		fan, err := env.newUser(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := fan.favorite(patchId); err != nil {
			t.Fatal(err)
		}
	}

	messages, err := owner.listMessages("")
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("distinct senders should each notify, got %d messages", len(messages))
	}
}

func TestMarkMessageRead(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	fan, err := env.newUser("fan")
	if err != nil {
		t.Fatal(err)
	}

	patchId, err := owner.createPatch("galgame-fix", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := fan.favorite(patchId); err != nil {
		t.Fatal(err)
	}

	unread, err := owner.listMessages("?unread=true")
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 1 {
		t.Fatalf("expected 1 unread message, got %d", len(unread))
	}

	messageId := unread[0].Id

	// Only the recipient may mark a message read.
	if err := fan.markRead(messageId); err == nil {
		t.Fatal("non-recipient should not be able to mark message read")
	}

	if err := owner.markRead(messageId); err != nil {
		t.Fatal(err)
	}

	// Marking read is idempotent.
	if err := owner.markRead(messageId); err != nil {
		t.Fatal(err)
	}

	unread, err = owner.listMessages("?unread=true")
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 0 {
		t.Fatalf("expected no unread messages, got %d", len(unread))
	}

	all, err := owner.listMessages("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Status != schema.MessageRead {
		t.Fatalf("message should be read, got %v", all)
	}

	if err := owner.markRead(99999); err == nil {
		t.Fatal("marking a missing message read should fail")
	}
}

func TestListMessagesFilterByType(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	patchId, err := admin.createPatch("galgame-fix", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := user.favorite(patchId); err != nil {
		t.Fatal(err)
	}
	if err := user.fileFeedback("the download page is broken"); err != nil {
		t.Fatal(err)
	}

	favorites, err := admin.listMessages("?type=favorite")
	if err != nil {
		t.Fatal(err)
	}
	if len(favorites) != 1 || favorites[0].Type != schema.MessageFavorite {
		t.Fatalf("invalid favorite messages %v", favorites)
	}

	feedback, err := admin.listMessages("?type=feedback")
	if err != nil {
		t.Fatal(err)
	}
	if len(feedback) != 1 || feedback[0].Type != schema.MessageFeedback {
		t.Fatalf("invalid feedback messages %v", feedback)
	}

	if _, err := admin.listMessages("?type=bogus"); err == nil {
		t.Fatal("invalid message type filter should fail")
	}
}
