/*
Package ddns keeps a DNS A record pointed at the host's current IPv4 address.

Usage will always start with [ddns.New],
which returns an [Updater] for a [Provider] and a [Store].
Each call to [Updater.Check] runs one update cycle:
the address is looked up with a [Resolver] and compared with the stored [State],
and when it changed, or when the previous attempt failed, it is pushed to the provider.
The outcome is persisted and a summary is sent through a [Notifier].

[Daemon] runs Check on a cron schedule.
After [DaemonConfig].MaxAttempts consecutive failures it waits for the cooldown to expire
before trying again.
*/
package ddns
