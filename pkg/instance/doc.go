/*
Package instance implements the lifecycle of a module instance.

	created -> initializing -> idle -> running -> stopping -> idle
	                 |                    |
	                 +------> failed <----+

Destroy is reachable from every state and is final. Each instance owns an
Outbox that its adapter fills through the Emitter it receives on Start; the
router drains it on a dedicated goroutine.
*/
package instance
